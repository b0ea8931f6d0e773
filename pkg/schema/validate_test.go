package schema

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
)

func violationFields(vs []apperr.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Field)
	}
	return out
}

func gensetFields(n int) map[string]string {
	m := map[string]string{}
	for i := 1; i <= n; i++ {
		for _, base := range []string{"genset_make", "genset_capacity", "genset_fuel", "genset_model", "flue_gas_flow", "flue_gas_temp", "back_pressure"} {
			m[FlatName(base, i)] = fmt.Sprintf("%s-%d", base, i)
		}
	}
	return m
}

func TestValidateRequiredAndEnums(t *testing.T) {
	r := Default()

	tests := []struct {
		name     string
		data     map[string]string
		expected []string
		reasons  []string
	}{
		{
			name:     "valid minimal",
			data:     map[string]string{"boiler_capacity": "1000 kg/hr", "design_pressure": "10.5 kg/cm2"},
			expected: []string{},
		},
		{
			name:     "missing required",
			data:     map[string]string{"boiler_capacity": "  "},
			expected: []string{"boiler_capacity", "design_pressure"},
			reasons:  []string{apperr.ReasonMissing, apperr.ReasonMissing},
		},
		{
			name:     "enum outside option set",
			data:     map[string]string{"boiler_capacity": "1", "design_pressure": "2", "orientation": "Sideways"},
			expected: []string{"orientation"},
			reasons:  []string{apperr.ReasonNotAllowed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs, err := r.Validate(models.VariantStandard, models.NewSectionData(tt.data))
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.expected, violationFields(vs))
			for i, reason := range tt.reasons {
				assert.Equal(t, reason, vs[i].Reason)
			}
		})
	}
}

func TestValidateUnknownVariant(t *testing.T) {
	_, err := Default().Validate("Hydrogen", models.NewSectionData(nil))
	var se *apperr.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Hydrogen", se.Variant)
}

func TestValidateGeneralInfoDates(t *testing.T) {
	vs, err := Default().ValidateSection(models.VariantStandard, models.SectionGeneralInfo, models.NewSectionData(map[string]string{
		"wsm_type": "Standard", "revision": "1.0", "client": "Acme", "site": "Plant 4",
		"po_date": "yesterday",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"po_date"}, violationFields(vs))
}

func TestValidateGensetBounds(t *testing.T) {
	r := Default()
	base := map[string]string{"boiler_capacity": "5 TPH", "design_pressure": "17.5"}

	with := func(count string, extra map[string]string) models.SectionData {
		m := map[string]string{"genset_count": count}
		for k, v := range base {
			m[k] = v
		}
		for k, v := range extra {
			m[k] = v
		}
		return models.NewSectionData(m)
	}

	t.Run("count 3 requires the first three blocks only", func(t *testing.T) {
		vs, err := r.Validate(models.VariantWHRB, with("3", nil))
		require.NoError(t, err)
		fields := violationFields(vs)
		for i := 1; i <= 3; i++ {
			assert.Contains(t, fields, FlatName("genset_make", i))
		}
		for i := 4; i <= 6; i++ {
			assert.NotContains(t, fields, FlatName("genset_make", i))
		}
	})

	t.Run("count 3 satisfied, extra blocks tolerated", func(t *testing.T) {
		vs, err := r.Validate(models.VariantWHRB, with("3", gensetFields(5)))
		require.NoError(t, err)
		assert.Empty(t, vs)
	})

	t.Run("count 7 is out of range", func(t *testing.T) {
		vs, err := r.Validate(models.VariantWHRB, with("7", gensetFields(6)))
		require.NoError(t, err)
		require.Len(t, vs, 1)
		assert.Equal(t, "genset_count", vs[0].Field)
		assert.Equal(t, apperr.ReasonOutOfRange, vs[0].Reason)
	})

	t.Run("count 0 is out of range", func(t *testing.T) {
		vs, err := r.Validate(models.VariantWHRB, with("0", nil))
		require.NoError(t, err)
		assert.Equal(t, []string{"genset_count"}, violationFields(vs))
	})

	t.Run("fractional count", func(t *testing.T) {
		vs, err := r.Validate(models.VariantWHRB, with("2.5", nil))
		require.NoError(t, err)
		require.Len(t, vs, 1)
		assert.Equal(t, apperr.ReasonInvalid, vs[0].Reason)
	})

	t.Run("structured entries validate like flat names", func(t *testing.T) {
		data := with("1", nil)
		data.Groups = map[string][]models.GroupEntry{"gensets": {{
			"genset_make": "Cummins", "genset_capacity": "1000 kVA", "genset_fuel": "HSD",
			"genset_model": "KTA50", "flue_gas_flow": "7000", "flue_gas_temp": "480", "back_pressure": "150",
		}}}
		vs, err := r.Validate(models.VariantWHRB, data)
		require.NoError(t, err)
		assert.Empty(t, vs)
	})
}

func TestNormalizeFoldsSuffixedNames(t *testing.T) {
	s, err := Default().Section(models.VariantWHRB, models.SectionSupplyServices)
	require.NoError(t, err)

	in := models.NewSectionData(map[string]string{
		"genset_count":  "2",
		"genset_make_1": "Cummins",
		"genset_make_2": "CAT",
		"genset_load_2": "80",
	})
	out := s.Normalize(in)

	require.Len(t, out.Groups["gensets"], 2)
	assert.Equal(t, "Cummins", out.Groups["gensets"][0]["genset_make"])
	assert.Equal(t, "100", out.Groups["gensets"][0]["genset_load"])
	assert.Equal(t, "80", out.Groups["gensets"][1]["genset_load"])
	assert.NotContains(t, out.Fields, "genset_make_1")
	assert.Equal(t, "Inlet of boiler", out.Fields["bellow_before_location"])
	// input is not modified
	assert.Contains(t, in.Fields, "genset_make_1")

	flat := s.Flatten(out)
	assert.Equal(t, "CAT", flat["genset_make_2"])
	assert.Equal(t, "2", flat["genset_count"])
}

func TestNormalizeDates(t *testing.T) {
	s, err := Default().Section(models.VariantStandard, models.SectionGeneralInfo)
	require.NoError(t, err)
	out := s.Normalize(models.NewSectionData(map[string]string{"po_date": "2025-05-16T10:00:00Z", "client": "Acme"}))
	assert.Equal(t, "2025-05-16", out.Fields["po_date"])
	assert.Equal(t, "Acme", out.Fields["client"])
}

func TestRows(t *testing.T) {
	s, err := Default().Section(models.VariantWHRB, models.SectionSupplyServices)
	require.NoError(t, err)

	data := s.Normalize(models.NewSectionData(map[string]string{
		"boiler_capacity": "5 TPH",
		"genset_count":    "1",
		"genset_make_1":   "Cummins",
		"legacy_field":    "kept",
	}))
	rows := s.Rows(data)

	byName := map[string]Row{}
	for _, r := range rows {
		byName[r.Name] = r
	}
	assert.Equal(t, "5 TPH", byName["boiler_capacity"].Value)
	assert.Equal(t, "", byName["design_pressure"].Value, "declared fields render even when empty")
	assert.Equal(t, "Genset Make 1", byName["genset_make_1"].Label)
	assert.NotContains(t, byName, "genset_make_2")
	assert.Equal(t, "legacy_field", rows[len(rows)-1].Name)

	t.Run("entries beyond the count are kept", func(t *testing.T) {
		data := s.Normalize(models.NewSectionData(map[string]string{
			"genset_count":  "1",
			"genset_make_1": "Cummins",
			"genset_make_2": "Wartsila",
		}))
		var names []string
		byName := map[string]Row{}
		for _, r := range s.Rows(data) {
			names = append(names, r.Name)
			byName[r.Name] = r
		}
		assert.Equal(t, "Wartsila", byName["genset_make_2"].Value)
		assert.Less(t, slices.Index(names, "genset_make_1"), slices.Index(names, "genset_make_2"))
	})
}
