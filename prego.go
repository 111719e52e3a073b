package prego

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/prego-ml/prego/core/model"
	"github.com/prego-ml/prego/ensemble"
	"github.com/prego-ml/prego/family"
	"github.com/prego-ml/prego/penalized"
	"github.com/prego-ml/prego/pkg/errors"
	"github.com/prego-ml/prego/pkg/log"
	"github.com/prego-ml/prego/rule"
	"github.com/prego-ml/prego/sample"
	"github.com/prego-ml/prego/tree"
)

// Tree split strategies accepted by WithTreeStrategy.
const (
	StrategyCTree = "ctree"
	StrategyCART  = "cart"
	StrategyMOB   = "mob"
)

// defaultSparseThreshold is the nonzero-density cutoff below which the
// candidate design matrix is stored as compressed sparse columns.
const defaultSparseThreshold = 0.15

type config struct {
	family         string
	nTrees         int
	sampleMethod   sample.Method
	sampleFraction float64
	learnRate      float64
	strategy       string
	ctreeAlpha     float64
	mobTrim        float64
	maxDepth       int
	depthPolicy    tree.DepthPolicy
	minLeaf        int
	linearTerms    bool
	complements    bool
	winsorFraction float64
	alpha          float64
	nFolds         int
	selection      penalized.Selection
	seed           uint64
	categorical    []int
	featureNames   []string
}

func defaultConfig() config {
	return config{
		family:         string(family.Gaussian),
		nTrees:         500,
		sampleMethod:   sample.Subsample,
		sampleFraction: 0.5,
		learnRate:      0.01,
		strategy:       StrategyCTree,
		ctreeAlpha:     0.05,
		mobTrim:        0.1,
		maxDepth:       3,
		minLeaf:        5,
		linearTerms:    true,
		complements:    true,
		winsorFraction: 0.025,
		alpha:          1,
		nFolds:         10,
		selection:      penalized.Lambda1SE,
	}
}

// Option configures a RuleEnsemble before fitting.
type Option func(*config)

// WithFamily sets the response family: "gaussian", "binomial",
// "multinomial", "poisson", "cox" or "mgaussian".
func WithFamily(name string) Option { return func(c *config) { c.family = name } }

// WithNTrees sets the number of tree-growing iterations. Zero yields a
// model with linear terms only.
func WithNTrees(n int) Option { return func(c *config) { c.nTrees = n } }

// WithSampleFraction sets the per-iteration sample size as a fraction
// of the training rows.
func WithSampleFraction(f float64) Option { return func(c *config) { c.sampleFraction = f } }

// WithBootstrap switches per-iteration sampling from subsampling
// without replacement to bootstrap sampling with replacement.
func WithBootstrap() Option { return func(c *config) { c.sampleMethod = sample.Bootstrap } }

// WithLearnRate sets the boosting shrinkage. Zero disables boosting and
// every tree is grown against the initial working response.
func WithLearnRate(nu float64) Option { return func(c *config) { c.learnRate = nu } }

// WithTreeStrategy selects the split strategy: "ctree" (default),
// "cart" or "mob".
func WithTreeStrategy(name string) Option { return func(c *config) { c.strategy = name } }

// WithCTreeAlpha sets the association-test significance level used by
// the ctree strategy to stop splitting.
func WithCTreeAlpha(alpha float64) Option { return func(c *config) { c.ctreeAlpha = alpha } }

// WithMaxDepth fixes the maximum tree depth for every iteration.
func WithMaxDepth(d int) Option {
	return func(c *config) {
		c.maxDepth = d
		c.depthPolicy = nil
	}
}

// WithDepthPolicy supplies a per-iteration depth schedule, overriding
// WithMaxDepth. See tree.FixedDepth, tree.DepthVector and
// tree.ExponentialDepth.
func WithDepthPolicy(p tree.DepthPolicy) Option { return func(c *config) { c.depthPolicy = p } }

// WithMinLeaf sets the minimum number of rows in a terminal node.
func WithMinLeaf(n int) Option { return func(c *config) { c.minLeaf = n } }

// WithLinearTerms toggles the winsorized linear base learners.
func WithLinearTerms(enabled bool) Option { return func(c *config) { c.linearTerms = enabled } }

// WithComplements toggles emitting the logical complement of every
// extracted rule.
func WithComplements(enabled bool) Option { return func(c *config) { c.complements = enabled } }

// WithWinsorFraction sets the quantile q so linear terms are clipped to
// the (q, 1-q) empirical quantiles of their predictor.
func WithWinsorFraction(q float64) Option { return func(c *config) { c.winsorFraction = q } }

// WithAlpha sets the elastic-net mixing parameter of the penalized fit:
// 1 is the lasso, 0 is ridge.
func WithAlpha(alpha float64) Option { return func(c *config) { c.alpha = alpha } }

// WithFolds sets the number of cross-validation folds used to pick the
// penalty.
func WithFolds(k int) Option { return func(c *config) { c.nFolds = k } }

// WithPenaltySelection sets the penalty-selection policy,
// penalized.LambdaMin or penalized.Lambda1SE (default).
func WithPenaltySelection(s penalized.Selection) Option { return func(c *config) { c.selection = s } }

// WithSeed fixes the master random seed. Two fits with the same seed,
// data and configuration produce identical models.
func WithSeed(seed uint64) Option { return func(c *config) { c.seed = seed } }

// WithCategoricalFeatures marks predictor columns as holding integer
// category codes. Categorical predictors enter the model through rules
// only.
func WithCategoricalFeatures(cols []int) Option { return func(c *config) { c.categorical = cols } }

// WithFeatureNames sets the predictor names used in rule descriptions.
func WithFeatureNames(names []string) Option { return func(c *config) { c.featureNames = names } }

// RuleEnsemble is a prediction rule ensemble estimator: randomized
// trees generate candidate rules, winsorized linear terms are added,
// and a cross-validated penalized regression selects a sparse weighted
// combination of both.
type RuleEnsemble struct {
	model.BaseEstimator

	cfg config
	ens *ensemble.Ensemble
	cv  *penalized.Result

	logger log.Logger
}

var (
	_ model.Estimator   = (*RuleEnsemble)(nil)
	_ model.Predictor   = (*RuleEnsemble)(nil)
	_ model.Persistable = (*RuleEnsemble)(nil)
)

// New builds an unfitted RuleEnsemble. Configuration errors surface
// from Fit.
func New(opts ...Option) *RuleEnsemble {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RuleEnsemble{
		cfg:    cfg,
		logger: log.GetLoggerWithName("prego"),
	}
}

// Fit trains the ensemble on x and y with uniform observation weights.
// For the cox family y carries (time, status) in two columns; for
// multinomial and mgaussian it carries one column per class or
// response.
func (r *RuleEnsemble) Fit(x, y mat.Matrix) error {
	return r.FitWeighted(x, y, nil)
}

// FitWeighted trains the ensemble with per-observation weights. A nil
// weights slice means uniform.
func (r *RuleEnsemble) FitWeighted(x, y mat.Matrix, weights []float64) error {
	start := time.Now()
	rows, cols := x.Dims()
	yRows, _ := y.Dims()
	if rows == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if yRows != rows {
		return errors.NewDimensionError("RuleEnsemble.Fit", rows, yRows, 0)
	}
	if r.cfg.featureNames != nil && len(r.cfg.featureNames) != cols {
		return errors.NewDimensionError("RuleEnsemble.Fit", cols, len(r.cfg.featureNames), 1)
	}

	fam, err := family.New(r.cfg.family)
	if err != nil {
		return err
	}
	strategy, err := r.splitStrategy()
	if err != nil {
		return err
	}
	inductor, err := tree.NewInductor(strategy, r.cfg.minLeaf, r.cfg.categorical)
	if err != nil {
		return err
	}
	sampler, err := sample.New(r.cfg.sampleMethod, r.cfg.sampleFraction, rows, weights, r.cfg.seed)
	if err != nil {
		return err
	}
	depth := r.cfg.depthPolicy
	if depth == nil {
		depth = tree.FixedDepth(r.cfg.maxDepth)
	}
	if weights == nil {
		weights = uniformWeights(rows)
	}

	r.logger.Info("fit started",
		log.OperationKey, "fit",
		log.FamilyKey, r.cfg.family,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
	)

	acc := ensemble.NewAccumulator(fam, inductor, sampler, depth, ensemble.Config{
		NTrees:         r.cfg.nTrees,
		LearnRate:      r.cfg.learnRate,
		Complements:    r.cfg.complements,
		LinearTerms:    r.cfg.linearTerms,
		WinsorFraction: r.cfg.winsorFraction,
	})
	learners, err := acc.Run(x, y, weights, r.cfg.featureNames)
	if err != nil {
		return err
	}

	fm := ensemble.Build(learners, x, defaultSparseThreshold)
	res, err := penalized.Fit(fm, y, fam, weights, penalized.Options{
		Alpha:     r.cfg.alpha,
		NFolds:    r.cfg.nFolds,
		Seed:      r.cfg.seed,
		Selection: r.cfg.selection,
	})
	if err != nil {
		return err
	}

	ens, err := ensemble.New(fam, learners, res.Coef, res.Intercept, r.cfg.featureNames, r.cfg.winsorFraction)
	if err != nil {
		return err
	}

	r.ens = ens
	r.cv = res
	r.SetFitted()

	r.logger.Info("fit finished",
		log.OperationKey, "fit",
		log.LearnersKey, len(learners),
		"selected", ens.NonZeroCount(),
		log.LambdaKey, res.Lambda,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Predict returns predictions on the response's natural scale:
// conditional means for gaussian and poisson, probabilities for
// binomial, per-class probabilities for multinomial, relative risks
// for cox. Rows with a missing value in a selected learner's predictor
// yield NaN.
func (r *RuleEnsemble) Predict(x mat.Matrix) (*mat.Dense, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RuleEnsemble", "Predict")
	}
	return r.ens.Predict(x)
}

// PredictLink returns the linear predictor in link space.
func (r *RuleEnsemble) PredictLink(x mat.Matrix) (*mat.Dense, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RuleEnsemble", "PredictLink")
	}
	return r.ens.LinkPredict(x)
}

// PredictContributions decomposes each row's link-space prediction for
// response column col into additive per-learner contributions: column 0
// is the intercept, column j+1 is the contribution of learner j.
func (r *RuleEnsemble) PredictContributions(x mat.Matrix, col int) (*mat.Dense, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RuleEnsemble", "PredictContributions")
	}
	return r.ens.Contributions(x, col)
}

// Model exposes the fitted ensemble: learners, coefficients, intercept
// and winsorizing metadata.
func (r *RuleEnsemble) Model() (*ensemble.Ensemble, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RuleEnsemble", "Model")
	}
	return r.ens, nil
}

// PenaltyPath exposes the cross-validation diagnostics of the penalized
// fit: the lambda path, the per-lambda loss curve and the selected
// penalties.
func (r *RuleEnsemble) PenaltyPath() (*penalized.Result, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RuleEnsemble", "PenaltyPath")
	}
	return r.cv, nil
}

// Save writes the fitted model to path as JSON. The file is sufficient
// to reproduce predictions without the training data.
func (r *RuleEnsemble) Save(path string) error {
	if !r.IsFitted() {
		return errors.NewNotFittedError("RuleEnsemble", "Save")
	}
	return r.ens.Save(path)
}

// Load restores a model previously written by Save. The returned
// estimator predicts identically to the one that was saved; path
// diagnostics are not persisted.
func Load(path string) (*RuleEnsemble, error) {
	ens, err := ensemble.Load(path)
	if err != nil {
		return nil, err
	}
	r := &RuleEnsemble{
		cfg:    defaultConfig(),
		ens:    ens,
		logger: log.GetLoggerWithName("prego"),
	}
	r.cfg.family = ens.FamilyName
	r.SetFitted()
	return r, nil
}

func (r *RuleEnsemble) splitStrategy() (tree.SplitStrategy, error) {
	switch r.cfg.strategy {
	case StrategyCTree:
		return tree.CTreeStrategy{Alpha: r.cfg.ctreeAlpha}, nil
	case StrategyCART:
		return tree.CARTStrategy{}, nil
	case StrategyMOB:
		return tree.MOBStrategy{Trim: r.cfg.mobTrim}, nil
	default:
		return nil, errors.NewConfigError("tree_strategy", `must be "ctree", "cart" or "mob"`, r.cfg.strategy)
	}
}

func uniformWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// Rules returns the selected rules of the fitted model for response
// column col, as (description, coefficient) pairs sorted by descending
// absolute coefficient. The intercept is not included.
func (r *RuleEnsemble) Rules(col int) ([]RuleWeight, error) {
	if !r.IsFitted() {
		return nil, errors.NewNotFittedError("RuleEnsemble", "Rules")
	}
	if col < 0 || col >= r.ens.ResponseCols() {
		return nil, errors.NewValueError("RuleEnsemble.Rules", "response column out of range")
	}
	var out []RuleWeight
	for j, learner := range r.ens.Learners {
		coef := r.ens.Coef.At(j, col)
		if coef == 0 {
			continue
		}
		out = append(out, RuleWeight{
			Description: learner.Description(),
			Kind:        learner.Kind(),
			Coefficient: coef,
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Coefficient) > math.Abs(out[b].Coefficient)
	})
	return out, nil
}

// RuleWeight is one selected base learner with its fitted coefficient.
type RuleWeight struct {
	Description string
	Kind        rule.Kind
	Coefficient float64
}
