package coincidences

// HistogramAxes are the axes shared by every histogram of one analysis.
type HistogramAxes struct {
	ToF    Axis
	Energy Axis
	PSD    Axis
}

// CoincidenceHistograms is the family of histograms filled by one
// reference/target analysis. The 2D energy histograms have energy on X and
// time of flight on Y. The PSD-vs-ToF histograms exist only when a PSD gate
// is active.
type CoincidenceHistograms struct {
	ToF                  *Histogram
	EnergyReference      *Histogram
	EnergyPartner        *Histogram
	PSDReference         *Histogram
	PSDPartner           *Histogram
	EnergyVsToFReference *Histogram2D
	EnergyVsToFPartner   *Histogram2D
	PSDVsToFReference    *Histogram2D
	PSDVsToFPartner      *Histogram2D
	EnergyVsEnergy       *Histogram2D
}

func NewCoincidenceHistograms(axes HistogramAxes, withPSD bool) *CoincidenceHistograms {
	c := &CoincidenceHistograms{
		ToF:                  NewHistogram(axes.ToF),
		EnergyReference:      NewHistogram(axes.Energy),
		EnergyPartner:        NewHistogram(axes.Energy),
		PSDReference:         NewHistogram(axes.PSD),
		PSDPartner:           NewHistogram(axes.PSD),
		EnergyVsToFReference: NewHistogram2D(axes.Energy, axes.ToF),
		EnergyVsToFPartner:   NewHistogram2D(axes.Energy, axes.ToF),
		EnergyVsEnergy:       NewHistogram2D(axes.Energy, axes.Energy),
	}
	if withPSD {
		c.PSDVsToFReference = NewHistogram2D(axes.PSD, axes.ToF)
		c.PSDVsToFPartner = NewHistogram2D(axes.PSD, axes.ToF)
	}
	return c
}

func (c *CoincidenceHistograms) Axes() HistogramAxes {
	return HistogramAxes{ToF: c.ToF.Axis, Energy: c.EnergyReference.Axis, PSD: c.PSDReference.Axis}
}

func (c *CoincidenceHistograms) HasPSDVsToF() bool {
	return c.PSDVsToFReference != nil
}

func (c *CoincidenceHistograms) Empty() *CoincidenceHistograms {
	return NewCoincidenceHistograms(c.Axes(), c.HasPSDVsToF())
}

// Fill adds one batch's matches. Reference spectra get one entry per matched
// reference event; everything else gets one entry per match.
func (c *CoincidenceHistograms) Fill(result MatchResult) {
	for _, reference := range result.MatchedReferences {
		c.EnergyReference.Fill(reference.Energy())
		c.PSDReference.Fill(reference.PSD())
	}
	for _, record := range result.Records {
		c.ToF.Fill(record.TimeDifference)
		c.EnergyPartner.Fill(record.PartnerEnergy)
		c.PSDPartner.Fill(record.PartnerPSD)
		c.EnergyVsToFReference.Fill(record.ReferenceEnergy, record.TimeDifference)
		c.EnergyVsToFPartner.Fill(record.PartnerEnergy, record.TimeDifference)
		c.EnergyVsEnergy.Fill(record.ReferenceEnergy, record.PartnerEnergy)
		if c.HasPSDVsToF() {
			c.PSDVsToFReference.Fill(record.ReferencePSD, record.TimeDifference)
			c.PSDVsToFPartner.Fill(record.PartnerPSD, record.TimeDifference)
		}
	}
}

// MergeCoincidenceHistograms returns the element-wise sum of a and b.
func MergeCoincidenceHistograms(a, b *CoincidenceHistograms) *CoincidenceHistograms {
	merged := &CoincidenceHistograms{
		ToF:                  Merge(a.ToF, b.ToF),
		EnergyReference:      Merge(a.EnergyReference, b.EnergyReference),
		EnergyPartner:        Merge(a.EnergyPartner, b.EnergyPartner),
		PSDReference:         Merge(a.PSDReference, b.PSDReference),
		PSDPartner:           Merge(a.PSDPartner, b.PSDPartner),
		EnergyVsToFReference: Merge2D(a.EnergyVsToFReference, b.EnergyVsToFReference),
		EnergyVsToFPartner:   Merge2D(a.EnergyVsToFPartner, b.EnergyVsToFPartner),
		EnergyVsEnergy:       Merge2D(a.EnergyVsEnergy, b.EnergyVsEnergy),
	}
	if a.HasPSDVsToF() != b.HasPSDVsToF() {
		panic("merging coincidence histograms with and without PSD-vs-ToF")
	}
	if a.HasPSDVsToF() {
		merged.PSDVsToFReference = Merge2D(a.PSDVsToFReference, b.PSDVsToFReference)
		merged.PSDVsToFPartner = Merge2D(a.PSDVsToFPartner, b.PSDVsToFPartner)
	}
	return merged
}

// Normalized returns a copy with the 1D spectra divided by liveTime. The 2D
// histograms keep raw counts.
func (c *CoincidenceHistograms) Normalized(liveTime float64) *CoincidenceHistograms {
	normalized := *c
	normalized.ToF = c.ToF.Normalized(liveTime)
	normalized.EnergyReference = c.EnergyReference.Normalized(liveTime)
	normalized.EnergyPartner = c.EnergyPartner.Normalized(liveTime)
	normalized.PSDReference = c.PSDReference.Normalized(liveTime)
	normalized.PSDPartner = c.PSDPartner.Normalized(liveTime)
	return &normalized
}

// NamedHistogram carries exactly one of H1 or H2.
type NamedHistogram struct {
	Name string
	H1   *Histogram
	H2   *Histogram2D
}

func (c *CoincidenceHistograms) Named() []NamedHistogram {
	named := []NamedHistogram{
		{Name: "ToF", H1: c.ToF},
		{Name: "E_reference", H1: c.EnergyReference},
		{Name: "E_partner", H1: c.EnergyPartner},
		{Name: "PSD_reference", H1: c.PSDReference},
		{Name: "PSD_partner", H1: c.PSDPartner},
		{Name: "EvsToF_reference", H2: c.EnergyVsToFReference},
		{Name: "EvsToF_partner", H2: c.EnergyVsToFPartner},
		{Name: "EvsE", H2: c.EnergyVsEnergy},
	}
	if c.HasPSDVsToF() {
		named = append(named,
			NamedHistogram{Name: "PSDvsToF_reference", H2: c.PSDVsToFReference},
			NamedHistogram{Name: "PSDvsToF_partner", H2: c.PSDVsToFPartner},
		)
	}
	return named
}

func (c *CoincidenceHistograms) Lookup(name string) (NamedHistogram, bool) {
	for _, named := range c.Named() {
		if named.Name == name {
			return named, true
		}
	}
	return NamedHistogram{}, false
}
