package coincidences

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

type ChannelLabel struct {
	Channel int    `db:"Channel"`
	Label   string `db:"Label"`
}

// LoadChannelLabels returns the detector names of the channels valid for
// runNumber.
func LoadChannelLabels(db *sqlx.DB, runNumber int) (map[uint8]string, error) {
	query := "SELECT Channel, Label FROM ChannelLabels WHERE MinRun <= ? AND MaxRun >= ? ORDER BY Channel"

	if verbosity > 0 {
		logger.Info("Reading channel labels from database", "database")
	}
	if verbosity > 2 {
		message := fmt.Sprintf("Query: %s (run %d)", query, runNumber)
		logger.Info(message, "database")
	}

	rows, err := db.Queryx(query, runNumber, runNumber)
	if err != nil {
		return nil, fmt.Errorf("error querying database: %w", err)
	}
	defer rows.Close()

	labels := make(map[uint8]string)
	for rows.Next() {
		result := ChannelLabel{}
		if err := rows.StructScan(&result); err != nil {
			return nil, fmt.Errorf("error scanning DB row: %w", err)
		}
		labels[uint8(result.Channel)] = result.Label
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading DB rows: %w", err)
	}
	return labels, nil
}

type CoincidenceRunRow struct {
	RunID            string  `db:"RunID"`
	RunNumber        int     `db:"RunNumber"`
	Batches          int     `db:"Batches"`
	MalformedBatches int     `db:"MalformedBatches"`
	Events           uint64  `db:"Events"`
	LiveTime         float64 `db:"LiveTime"`
	Interrupted      bool    `db:"Interrupted"`
}

type RateEstimateRow struct {
	RunID        string  `db:"RunID"`
	Channel      int     `db:"Channel"`
	Events       uint64  `db:"Events"`
	Tau          float64 `db:"Tau"`
	MeasuredRate float64 `db:"MeasuredRate"`
	TrueRate     float64 `db:"TrueRate"`
	DeadTime     float64 `db:"DeadTime"`
	DeadFraction float64 `db:"DeadFraction"`
}

// SaveRunSummary stores the run counters and every rate estimate of report
// in one transaction.
func SaveRunSummary(db *sqlx.DB, report *Report, runNumber int) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	run := CoincidenceRunRow{
		RunID:            report.RunID.String(),
		RunNumber:        runNumber,
		Batches:          report.Batches,
		MalformedBatches: report.MalformedBatches,
		Events:           report.Events,
		LiveTime:         report.LiveTime,
		Interrupted:      report.Interrupted,
	}
	_, err = tx.NamedExec(`INSERT INTO CoincidenceRuns (RunID, RunNumber, Batches, MalformedBatches, Events, LiveTime, Interrupted)
		VALUES (:RunID, :RunNumber, :Batches, :MalformedBatches, :Events, :LiveTime, :Interrupted)`, run)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error inserting run %s: %w", run.RunID, err)
	}

	for _, rate := range report.Rates {
		if rate.Estimate == nil {
			continue
		}
		row := RateEstimateRow{
			RunID:        run.RunID,
			Channel:      int(rate.Channel),
			Events:       rate.Estimate.Events,
			Tau:          rate.Estimate.Tau,
			MeasuredRate: rate.Estimate.MeasuredRate,
			TrueRate:     rate.Estimate.TrueRate,
			DeadTime:     rate.Estimate.DeadTime,
			DeadFraction: rate.Estimate.DeadFraction,
		}
		_, err = tx.NamedExec(`INSERT INTO RateEstimates (RunID, Channel, Events, Tau, MeasuredRate, TrueRate, DeadTime, DeadFraction)
			VALUES (:RunID, :Channel, :Events, :Tau, :MeasuredRate, :TrueRate, :DeadTime, :DeadFraction)`, row)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error inserting rate estimate of channel %d: %w", rate.Channel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing run %s: %w", run.RunID, err)
	}
	if verbosity > 0 {
		logger.Info(fmt.Sprintf("Run %s saved to database", run.RunID), "database")
	}
	return nil
}
