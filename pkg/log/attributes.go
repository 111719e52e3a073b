package log

// Standard attribute keys. Using these across packages keeps log
// records filterable by component, operation and scale.
const (
	// ComponentKey identifies the package or component emitting the record.
	ComponentKey = "component"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "cross_validate".
	OperationKey = "operation"

	// FamilyKey records the response family of the current fit.
	FamilyKey = "family"

	// SamplesKey is the number of observations being processed.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of predictor columns.
	FeaturesKey = "data.features"

	// IterationKey is the current tree-growing iteration.
	IterationKey = "iteration"

	// RulesKey is the number of candidate rules accumulated so far.
	RulesKey = "rules.count"

	// LearnersKey is the total number of candidate base learners.
	LearnersKey = "learners.count"

	// LambdaKey is a penalty strength on the regularization path.
	LambdaKey = "lambda"

	// FoldKey is a cross-validation fold index.
	FoldKey = "cv.fold"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)
