package ensemble

import (
	"encoding/json"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/pkg/errors"
	"github.com/prego-ml/prego/rule"
)

// The persisted representation is an ordered list of learner records
// with their coefficients, plus the family tag and winsorizing
// metadata. It is sufficient to reconstruct prediction behavior
// without the training data.

type splitRecord struct {
	Feature    int     `json:"feature"`
	Op         string  `json:"op"`
	Threshold  float64 `json:"threshold,omitempty"`
	Categories []int   `json:"categories,omitempty"`
}

type learnerRecord struct {
	Kind        rule.Kind `json:"kind"`
	Description string    `json:"description"`
	Coef        []float64 `json:"coef"`

	// Rule fields.
	Splits  []splitRecord `json:"splits,omitempty"`
	Negated bool          `json:"negated,omitempty"`

	// Linear / hinge fields.
	Feature  int     `json:"feature,omitempty"`
	Lower    float64 `json:"lower,omitempty"`
	Upper    float64 `json:"upper,omitempty"`
	Knot     float64 `json:"knot,omitempty"`
	Negative bool    `json:"negative,omitempty"`
}

type ensembleRecord struct {
	Family         string          `json:"family"`
	Intercept      []float64       `json:"intercept"`
	FeatureNames   []string        `json:"feature_names,omitempty"`
	WinsorFraction float64         `json:"winsor_fraction"`
	Learners       []learnerRecord `json:"learners"`
}

var opNames = map[rule.Op]string{
	rule.OpLE:    "le",
	rule.OpGT:    "gt",
	rule.OpIn:    "in",
	rule.OpNotIn: "not_in",
}

var opValues = map[string]rule.Op{
	"le":     rule.OpLE,
	"gt":     rule.OpGT,
	"in":     rule.OpIn,
	"not_in": rule.OpNotIn,
}

// MarshalJSON implements json.Marshaler.
func (e *Ensemble) MarshalJSON() ([]byte, error) {
	rec := ensembleRecord{
		Family:         e.FamilyName,
		Intercept:      e.Intercept,
		FeatureNames:   e.FeatureNames,
		WinsorFraction: e.WinsorFraction,
		Learners:       make([]learnerRecord, 0, len(e.Learners)),
	}
	ncols := e.ResponseCols()
	for j, learner := range e.Learners {
		lr := learnerRecord{
			Kind:        learner.Kind(),
			Description: learner.Description(),
			Coef:        make([]float64, ncols),
		}
		for c := 0; c < ncols; c++ {
			lr.Coef[c] = e.Coef.At(j, c)
		}
		switch l := learner.(type) {
		case *rule.Rule:
			lr.Negated = l.Negated
			for _, s := range l.Splits {
				lr.Splits = append(lr.Splits, splitRecord{
					Feature:    s.Feature,
					Op:         opNames[s.Op],
					Threshold:  s.Threshold,
					Categories: s.Categories,
				})
			}
		case *rule.LinearTerm:
			lr.Feature = l.Feature
			lr.Lower = l.Lower
			lr.Upper = l.Upper
		case *rule.Hinge:
			lr.Feature = l.Feature
			lr.Knot = l.Knot
			lr.Negative = l.Negative
		default:
			return nil, errors.Newf("ensemble: cannot persist learner of kind %q", learner.Kind())
		}
		rec.Learners = append(rec.Learners, lr)
	}
	return json.Marshal(rec)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Ensemble) UnmarshalJSON(data []byte) error {
	var rec ensembleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return errors.Wrap(err, "ensemble: decoding persisted model")
	}
	fam, err := family.New(rec.Family)
	if err != nil {
		return err
	}

	ncols := len(rec.Intercept)
	learners := make([]rule.BaseLearner, 0, len(rec.Learners))
	var coef *mat.Dense
	if len(rec.Learners) > 0 {
		coef = mat.NewDense(len(rec.Learners), ncols, nil)
	}
	for j, lr := range rec.Learners {
		for c := 0; c < ncols && c < len(lr.Coef); c++ {
			coef.Set(j, c, lr.Coef[c])
		}
		switch lr.Kind {
		case rule.KindRule:
			splits := make([]rule.Split, len(lr.Splits))
			for i, s := range lr.Splits {
				op, ok := opValues[s.Op]
				if !ok {
					return errors.Newf("ensemble: unknown split operator %q", s.Op)
				}
				splits[i] = rule.Split{
					Feature:    s.Feature,
					Op:         op,
					Threshold:  s.Threshold,
					Categories: s.Categories,
				}
			}
			learners = append(learners, rule.NewRule(splits, lr.Negated, rec.FeatureNames))
		case rule.KindLinear:
			learners = append(learners, rule.NewLinearTerm(lr.Feature, lr.Lower, lr.Upper, rec.FeatureNames))
		case rule.KindHinge:
			learners = append(learners, rule.NewHinge(lr.Feature, lr.Knot, lr.Negative, rec.FeatureNames))
		default:
			return errors.Newf("ensemble: unknown learner kind %q", lr.Kind)
		}
	}

	e.FamilyName = rec.Family
	e.Learners = learners
	e.Coef = coef
	e.Intercept = rec.Intercept
	e.FeatureNames = rec.FeatureNames
	e.WinsorFraction = rec.WinsorFraction
	e.fam = fam
	return nil
}

// Save writes the ensemble to path as JSON.
func (e *Ensemble) Save(path string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errors.Wrap(err, "ensemble: encoding model")
	}
	return os.WriteFile(path, data, 0o600)
}

// Load restores an ensemble previously written by Save.
func Load(path string) (*Ensemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "ensemble: reading model file")
	}
	var e Ensemble
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
