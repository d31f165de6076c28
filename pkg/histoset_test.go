package coincidences

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAxes(t *testing.T) HistogramAxes {
	t.Helper()
	tof, err := BuildAxis(-10, 10, 1)
	require.NoError(t, err)
	energy, err := BuildAxis(0, 1000, 100)
	require.NoError(t, err)
	psd, err := BuildAxis(0, 1, 0.25)
	require.NoError(t, err)
	return HistogramAxes{ToF: tof, Energy: energy, PSD: psd}
}

func TestCoincidenceHistogramsFill(t *testing.T) {
	result := MatchResult{
		Records: []CoincidenceRecord{
			{TimeDifference: 2, ReferenceEnergy: 150, ReferencePSD: 0.1, PartnerEnergy: 550, PartnerPSD: 0.6},
			{TimeDifference: -3, ReferenceEnergy: 150, ReferencePSD: 0.1, PartnerEnergy: 850, PartnerPSD: 0.9},
		},
		MatchedReferences: []Event{{Qshort: 135, Qlong: 150}},
	}
	histograms := NewCoincidenceHistograms(testAxes(t), true)

	histograms.Fill(result)

	assert.Equal(t, 1.0, histograms.EnergyReference.Entries())
	assert.Equal(t, 1.0, histograms.PSDReference.Entries())
	assert.Equal(t, 2.0, histograms.ToF.Entries())
	assert.Equal(t, 2.0, histograms.EnergyPartner.Entries())
	assert.Equal(t, 1.0, histograms.EnergyVsToFPartner.At(5, 12))
	assert.Equal(t, 1.0, histograms.EnergyVsToFPartner.At(8, 7))
	assert.Equal(t, 2.0, histograms.EnergyVsEnergy.Entries())
	assert.Equal(t, 2.0, histograms.PSDVsToFPartner.Entries())
}

func TestCoincidenceHistogramsWithoutPSD(t *testing.T) {
	histograms := NewCoincidenceHistograms(testAxes(t), false)

	assert.False(t, histograms.HasPSDVsToF())
	assert.Len(t, histograms.Named(), 8)
	_, ok := histograms.Lookup("PSDvsToF_partner")
	assert.False(t, ok)

	withPSD := NewCoincidenceHistograms(testAxes(t), true)
	assert.Len(t, withPSD.Named(), 10)
	named, ok := withPSD.Lookup("PSDvsToF_partner")
	require.True(t, ok)
	assert.NotNil(t, named.H2)
}

func TestMergeCoincidenceHistograms(t *testing.T) {
	axes := testAxes(t)
	a := NewCoincidenceHistograms(axes, false)
	a.Fill(MatchResult{Records: []CoincidenceRecord{{TimeDifference: 1, PartnerEnergy: 100}}})
	b := a.Empty()
	b.Fill(MatchResult{Records: []CoincidenceRecord{{TimeDifference: 1, PartnerEnergy: 100}}})

	merged := MergeCoincidenceHistograms(a, b)

	assert.Equal(t, 2.0, merged.ToF.Counts[11])
	assert.Equal(t, 1.0, a.ToF.Counts[11])
	assert.Panics(t, func() { MergeCoincidenceHistograms(a, NewCoincidenceHistograms(axes, true)) })
}

func TestCoincidenceHistogramsNormalized(t *testing.T) {
	histograms := NewCoincidenceHistograms(testAxes(t), false)
	histograms.Fill(MatchResult{Records: []CoincidenceRecord{
		{TimeDifference: 0, ReferenceEnergy: 10, PartnerEnergy: 10},
		{TimeDifference: 0, ReferenceEnergy: 10, PartnerEnergy: 10},
	}})

	normalized := histograms.Normalized(4)

	assert.Equal(t, 0.5, normalized.ToF.Counts[10])
	assert.Equal(t, 2.0, normalized.EnergyVsEnergy.Entries(), "2D histograms keep raw counts")
	assert.Equal(t, 2.0, histograms.ToF.Counts[10])
}
