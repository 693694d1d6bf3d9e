// Package mgp compresses a Gaussian-process force field into tabulated spline
// surrogates ("mapped Gaussian processes") that can be evaluated in constant
// time inside a molecular-dynamics loop.
//
// A kernel evaluation against the training set costs O(N_train); a spline
// lookup costs O(1). The package samples the trained model on a regular grid
// per interaction type, fits a mean spline and an optional rank-truncated
// variance spline, and reconstructs force, virial and energy from the spline
// derivatives at prediction time.
//
// # Features
//
//   - Pair and triplet interactions: one SingleInteractionMap per species
//     combination, aggregated by a MappedSurrogate per body order
//   - Batch-parallel kernel-vector assembly on a bounded worker pool, with
//     batch outputs reassembled in partition order
//   - Force-mapped and energy-mapped modes
//   - Variance surrogate compressed by truncated SVD
//   - Automatic container rebuild when the hyperparameter mask changes
//   - Coefficient files for downstream simulation engines
//   - Progress monitoring via channels
//
// # Building a surrogate
//
//	config := mgp.DefaultConfig(mgp.TwoBody)
//	config.GridNum = []int{64}
//	config.LowerBound = []float64{0.5}
//
//	surrogate, err := mgp.NewMappedSurrogate(mgp.TwoBody, []int{1, 8}, config)
//	if err != nil {
//	    return err
//	}
//
//	// trainingSet implements mgp.TrainingSet (see package gp for a reference).
//	if err := surrogate.Build(ctx, trainingSet); err != nil {
//	    return err
//	}
//
//	pred, err := surrogate.Predict(env, false, 0)
//
// # Configuration
//
// The Config struct controls grid resolution, variance compression and
// parallelism:
//
//	type Config struct {
//	    GridNum      []int                // Nodes per grid dimension
//	    LowerBound   []float64            // Lower grid bound per dimension
//	    Cutoff       float64              // Upper bound before a training set is seen
//	    SVDRank      int                  // Variance truncation order, 0 = full
//	    MapForce     bool                 // Map a force component instead of energy
//	    MeanOnly     bool                 // Skip the variance surrogate entirely
//	    Workers      int                  // Worker pool size per build
//	    SampleHint   int                  // Maximum training entries per batch
//	    Logger       *zap.Logger          // Structured logger, nil = no-op
//	    ProgressChan chan<- BuildProgress // Optional progress updates
//	    Sink         DiagnosticSink       // Optional grid array sink
//	}
//
// # Thread Safety
//
//   - Build runs kernel assembly on its own worker pool; workers operate on
//     private copies of the probe environment and share no mutable state
//   - Predict and Evaluate are read-only once Build returned and may be called
//     from multiple goroutines
//   - Build holds the surrogate's write lock; predictions issued meanwhile
//     wait for it to finish
package mgp
