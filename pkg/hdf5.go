package coincidences

import (
	"fmt"

	"github.com/jmbenlloch/go-hdf5"
)

const STRLEN = 40

type RunInfoHDF5 struct {
	run_id            [STRLEN]byte
	run_number        int32
	batches           int32
	malformed_batches int32
	interrupted       int32
	events            uint64
	first_timestamp   uint64
	last_timestamp    uint64
	live_time         float64
}

type ChannelSummaryHDF5 struct {
	channel         int32
	events          uint64
	first_timestamp uint64
	last_timestamp  uint64
}

type AnalysisInfoHDF5 struct {
	name                     [STRLEN]byte
	reference                int32
	target                   int32
	failed_batches           int32
	references               uint64
	references_gated         uint64
	forward_visited          uint64
	backward_visited         uint64
	partner_gate_evaluations uint64
	matches                  uint64
	matched_references       uint64
}

type RateEstimateHDF5 struct {
	channel         int32
	fit_bins        int32
	events          uint64
	negative        uint64
	amplitude       float64
	tau             float64
	tau_low_factor  float64
	tau_high_factor float64
	live_time       float64
	measured_rate   float64
	true_rate       float64
	dead_time       float64
	dead_fraction   float64
}

type CoincidenceRecordHDF5 struct {
	time_difference  float64
	reference_energy float64
	reference_psd    float64
	partner_energy   float64
	partner_psd      float64
}

func convertToHdf5String(s string) [STRLEN]byte {
	var byteArray [STRLEN]byte
	copy(byteArray[:], s)
	return byteArray
}

type groupCreator interface {
	CreateGroup(name string) (*hdf5.Group, error)
}

func openFile(fname string) (*hdf5.File, error) {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, &ErrOpenFile{Filename: fname, Err: err}
	}
	return f, nil
}

func createGroup(parent groupCreator, groupName string) (*hdf5.Group, error) {
	g, err := parent.CreateGroup(groupName)
	if err != nil {
		return nil, &ErrCreateGroup{GroupName: groupName, Err: err}
	}
	return g, nil
}

// createArray creates a fixed size float64 dataset holding dims values.
func createArray(group *hdf5.Group, name string, dims []uint, compressionLevel int) (*hdf5.Dataset, error) {
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	chunks := make([]uint, len(dims))
	for i, dim := range dims {
		chunks[i] = min(max(dim, 1), 32768)
	}
	if err := plist.SetChunk(chunks); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if err := plist.SetDeflate(compressionLevel); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}

	dataset, err := group.CreateDatasetWith(name, hdf5.T_NATIVE_DOUBLE, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dataset, nil
}

// writeArray creates a float64 dataset with the given shape and fills it.
func writeArray(group *hdf5.Group, name string, data []float64, dims []uint, compressionLevel int) error {
	if len(data) == 0 {
		return nil
	}
	dataset, err := createArray(group, name, dims, compressionLevel)
	if err != nil {
		return err
	}
	if err := dataset.Write(&data); err != nil {
		dataset.Close()
		return fmt.Errorf("error writing %s: %w", name, err)
	}
	return dataset.Close()
}

func createTable(group *hdf5.Group, name string, datatype interface{}, compressionLevel int) (*hdf5.Dataset, error) {
	dims := []uint{0}
	unlimitedDims := -1 // H5S_UNLIMITED is -1L
	maxDims := []uint{uint(unlimitedDims)}
	fileSpace, err := hdf5.CreateSimpleDataspace(dims, maxDims)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer fileSpace.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	defer plist.Close()

	chunks := []uint{32768}
	if err := plist.SetChunk(chunks); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	if err := plist.SetDeflate(compressionLevel); err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}

	dtype, err := hdf5.NewDatatypeFromValue(datatype)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}

	dataset, err := group.CreateDatasetWith(name, dtype, fileSpace, plist)
	if err != nil {
		return nil, &ErrCreateTable{TableName: name, Err: err}
	}
	return dataset, nil
}

// writeArrayToTable appends data to an extendable table that already holds
// rowsInFile rows.
func writeArrayToTable[T any](dataset *hdf5.Dataset, data *[]T, rowsInFile int) error {
	length := uint(len(*data))
	if length == 0 {
		return nil
	}
	dataspace, err := hdf5.CreateSimpleDataspace([]uint{length}, nil)
	if err != nil {
		return err
	}
	defer dataspace.Close()

	start := uint(rowsInFile)
	if err := dataset.Resize([]uint{start + length}); err != nil {
		return err
	}
	filespace := dataset.Space()
	defer filespace.Close()

	if err := filespace.SelectHyperslab([]uint{start}, nil, []uint{length}, nil); err != nil {
		return err
	}
	return dataset.WriteSubset(data, dataspace, filespace)
}
