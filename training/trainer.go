package training

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ShuvenduRoy/TAFFC-SSL-FER/checkpoints"
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/layers"
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/optimizer"
	"github.com/ShuvenduRoy/TAFFC-SSL-FER/tensor"
)

const (
	// latestSaveInterval is how often the "latest" checkpoint slot is
	// unconditionally overwritten.
	latestSaveInterval = 10000

	// lateEvalInterval replaces the configured evaluation interval once
	// lateEvalFraction of the iteration budget has elapsed, for
	// finer-grained best-checkpoint resolution near convergence.
	lateEvalInterval = 1000
	lateEvalFraction = 0.8

	latestCheckpointName = "latest_model.json"
	bestCheckpointName   = "model_best.json"
)

// TrainerConfig holds configuration for semi-supervised training
type TrainerConfig struct {
	NumClasses   int
	NumTrainIter int // Total iteration budget
	TerminalIter int // Optional early stop iteration (0 = disabled)
	NumEvalIter  int // Evaluation interval in iterations

	LambdaU        float32 // Weight of the unsupervised loss
	UnsupWarmupPos float64 // Fraction of training over which the unsupervised term ramps in

	BaseLR   float64
	ClipNorm float32 // Gradient-norm clip threshold (<=0 disables)
	EMADecay float32
	AMP      bool // Enables gradient scaling for reduced-precision training

	SaveDir  string
	SaveName string

	// Rank of this process in a replicated run. Only rank 0 writes
	// checkpoints and the results log.
	Rank int
}

// DefaultTrainerConfig returns default trainer configuration
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		NumClasses:     10,
		NumTrainIter:   1 << 20,
		NumEvalIter:    10000,
		LambdaU:        1.0,
		UnsupWarmupPos: 0.4,
		BaseLR:         0.03,
		EMADecay:       0.999,
		SaveDir:        "./saved_models",
		SaveName:       "pimodel",
	}
}

// Trainer drives semi-supervised training: it pulls paired labeled and
// unlabeled batches, composes the warmup-weighted loss, steps the
// optimizer and EMA shadow, and owns evaluation and checkpoint cadence.
// The live model, optimizer, and scheduler are exclusively owned and
// mutated by the Trainer; the EMA shadow is only mutated through the
// tracker.
type Trainer struct {
	config    TrainerConfig
	model     layers.Module
	algorithm Algorithm
	optim     optimizer.Optimizer
	scheduler LRScheduler
	scaler    *GradScaler
	ema       *EMA
	bn        *BNController
	supLoss   *CrossEntropyLoss

	trainLb    LabeledProducer
	trainUlb   UnlabeledProducer
	evalLoader EvalProducer

	it          int
	numEvalIter int
	baseLR      float64
	bestEvalAcc float64
	bestIt      int

	resumed bool
	emaSeed map[string]*tensor.Tensor

	logf   func(format string, args ...interface{})
	report func(it int, stats map[string]float64)
}

// NewTrainer creates a semi-supervised trainer. The optimizer must already
// be bound to the model's parameters.
func NewTrainer(config TrainerConfig, model layers.Module, algorithm Algorithm,
	optim optimizer.Optimizer, scheduler LRScheduler) (*Trainer, error) {

	if config.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid class count: %d", config.NumClasses)
	}
	if config.NumTrainIter <= 0 {
		return nil, fmt.Errorf("iteration budget must be positive: %d", config.NumTrainIter)
	}
	if config.NumEvalIter <= 0 {
		return nil, fmt.Errorf("evaluation interval must be positive: %d", config.NumEvalIter)
	}
	if config.LambdaU < 0 {
		return nil, fmt.Errorf("lambda_u cannot be negative: %f", config.LambdaU)
	}
	if config.UnsupWarmupPos < 0 || config.UnsupWarmupPos > 1 {
		return nil, fmt.Errorf("warmup position must be in [0, 1]: %f", config.UnsupWarmupPos)
	}
	if config.BaseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive: %f", config.BaseLR)
	}
	if model == nil || algorithm == nil || optim == nil {
		return nil, fmt.Errorf("model, algorithm, and optimizer are required")
	}
	if scheduler == nil {
		scheduler = &ConstantScheduler{}
	}

	ema, err := NewEMA(model, config.EMADecay)
	if err != nil {
		return nil, err
	}
	ema.Register()

	scaler, err := NewGradScaler(DefaultGradScalerConfig(), config.AMP)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		config:      config,
		model:       model,
		algorithm:   algorithm,
		optim:       optim,
		scheduler:   scheduler,
		scaler:      scaler,
		ema:         ema,
		bn:          NewBNController(),
		supLoss:     NewCrossEntropyLoss(),
		numEvalIter: config.NumEvalIter,
		baseLR:      config.BaseLR,
		logf:        log.Printf,
	}, nil
}

// SetDataLoaders binds the labeled and unlabeled training streams and the
// held-out evaluation loader. The training producers must not be exhausted
// before the iteration budget; resampling is the producer's job.
func (t *Trainer) SetDataLoaders(labeled LabeledProducer, unlabeled UnlabeledProducer, eval EvalProducer) {
	t.trainLb = labeled
	t.trainUlb = unlabeled
	t.evalLoader = eval
}

// SetLogger replaces the default log.Printf sink
func (t *Trainer) SetLogger(logf func(format string, args ...interface{})) {
	if logf != nil {
		t.logf = logf
	}
}

// SetReporter installs a per-iteration metrics sink
func (t *Trainer) SetReporter(report func(it int, stats map[string]float64)) {
	t.report = report
}

// Iteration returns the current training iteration
func (t *Trainer) Iteration() int {
	return t.it
}

// BestAccuracy returns the best observed evaluation top-1 accuracy and the
// iteration it was observed at.
func (t *Trainer) BestAccuracy() (float64, int) {
	return t.bestEvalAcc, t.bestIt
}

// Train runs the training loop until the iteration budget (or the terminal
// iteration override) is reached, then runs a final evaluation and
// appends the run's best accuracy to the results log. Returns the final
// evaluation metrics.
func (t *Trainer) Train() (map[string]float64, error) {
	if t.trainLb == nil || t.trainUlb == nil {
		return nil, fmt.Errorf("training data loaders not configured")
	}

	t.model.Train()

	if t.resumed {
		if t.emaSeed != nil {
			if err := t.ema.Load(t.emaSeed); err != nil {
				return nil, fmt.Errorf("failed to seed EMA from checkpoint: %v", err)
			}
		}

		// One evaluation pass to verify the restored state before continuing
		evalStats, err := t.Evaluate()
		if err != nil {
			return nil, fmt.Errorf("post-resume evaluation failed: %v", err)
		}
		t.logf("resumed at iteration %d: %v", t.it, evalStats)
	}

	for {
		if t.it > t.config.NumTrainIter {
			break
		}

		stats, err := t.trainStep()
		if err != nil {
			return nil, fmt.Errorf("iteration %d failed: %v", t.it, err)
		}

		if t.it%latestSaveInterval == 0 && t.config.Rank == 0 {
			if err := t.SaveModel(latestCheckpointName); err != nil {
				return nil, err
			}
		}

		if t.config.TerminalIter > 0 && t.it >= t.config.TerminalIter {
			break
		}

		if t.it%t.numEvalIter == 0 {
			evalStats, err := t.Evaluate()
			if err != nil {
				return nil, err
			}
			for k, v := range evalStats {
				stats[k] = v
			}

			if evalStats["eval/top-1-acc"] > t.bestEvalAcc {
				t.bestEvalAcc = evalStats["eval/top-1-acc"]
				t.bestIt = t.it
			}

			t.logf("%d iteration, %v, BEST_EVAL_ACC: %f, at %d iters",
				t.it, stats, t.bestEvalAcc, t.bestIt)

			if t.config.Rank == 0 && t.it == t.bestIt {
				if err := t.SaveModel(bestCheckpointName); err != nil {
					return nil, err
				}
			}
		}

		if t.report != nil {
			t.report(t.it, stats)
		}

		t.it++
		if float64(t.it) > lateEvalFraction*float64(t.config.NumTrainIter) {
			t.numEvalIter = lateEvalInterval
		}
	}

	evalStats, err := t.Evaluate()
	if err != nil {
		return nil, err
	}
	evalStats["eval/best_acc"] = t.bestEvalAcc
	evalStats["eval/best_it"] = float64(t.bestIt)

	if t.config.Rank == 0 {
		t.appendResultsLog()
	}

	return evalStats, nil
}

// trainStep runs one iteration of the per-step protocol: labeled forward
// with statistics unfrozen, unlabeled forwards with statistics frozen,
// loss composition, backward, clip, optimizer step, scheduler, EMA update,
// gradient reset. A step, once started, always completes before a
// termination check is honored.
func (t *Trainer) trainStep() (map[string]float64, error) {
	warmup := WarmupFactor(t.it, t.config.NumTrainIter, t.config.UnsupWarmupPos)

	fetchStart := time.Now()
	lbBatch, err := t.trainLb.Next()
	if err != nil {
		return nil, fmt.Errorf("labeled batch fetch failed: %v", err)
	}
	if lbBatch == nil {
		return nil, fmt.Errorf("labeled stream exhausted at iteration %d", t.it)
	}

	ulbBatch, err := t.trainUlb.Next()
	if err != nil {
		return nil, fmt.Errorf("unlabeled batch fetch failed: %v", err)
	}
	if ulbBatch == nil {
		return nil, fmt.Errorf("unlabeled stream exhausted at iteration %d", t.it)
	}
	fetchTime := time.Since(fetchStart)

	runStart := time.Now()

	// Supervised pass: statistics unfrozen, so labeled batches drive the
	// running estimates.
	logitsLb, err := t.model.Forward(lbBatch.Data)
	if err != nil {
		return nil, fmt.Errorf("labeled forward pass failed: %v", err)
	}

	supLoss, err := t.supLoss.Forward(logitsLb, lbBatch.Labels)
	if err != nil {
		return nil, fmt.Errorf("supervised loss failed: %v", err)
	}

	supGrad, err := t.supLoss.Backward(logitsLb, lbBatch.Labels)
	if err != nil {
		return nil, fmt.Errorf("supervised gradient failed: %v", err)
	}
	supGrad.Scale(t.scaler.Scale())
	if _, err := t.model.Backward(supGrad); err != nil {
		return nil, fmt.Errorf("supervised backward pass failed: %v", err)
	}

	// Unlabeled passes bracketed by the statistics freeze
	var logitsW1, logitsW2 *tensor.Tensor
	err = t.bn.WithFrozenBN(t.model, func() error {
		var err error
		if logitsW1, err = t.model.Forward(ulbBatch.View1); err != nil {
			return fmt.Errorf("first unlabeled forward pass failed: %v", err)
		}
		if logitsW2, err = t.model.Forward(ulbBatch.View2); err != nil {
			return fmt.Errorf("second unlabeled forward pass failed: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	unsupLoss, unsupGrad, err := t.algorithm.UnsupLoss(logitsW1, logitsW2)
	if err != nil {
		return nil, fmt.Errorf("unsupervised loss failed: %v", err)
	}

	unsupCoeff := t.config.LambdaU * float32(warmup)
	totalLoss := supLoss + unsupCoeff*unsupLoss

	unsupGrad.Scale(unsupCoeff * t.scaler.Scale())
	if _, err := t.model.Backward(unsupGrad); err != nil {
		return nil, fmt.Errorf("unsupervised backward pass failed: %v", err)
	}

	lr := t.scheduler.GetLR(t.it, t.baseLR)
	t.optim.UpdateLearningRate(float32(lr))

	params := t.model.Parameters()
	foundInf := t.scaler.UnscaleGradients(params)
	if !foundInf {
		optimizer.ClipGradNorm(params, t.config.ClipNorm)
		if err := t.optim.Step(); err != nil {
			return nil, fmt.Errorf("optimizer step failed: %v", err)
		}
	}
	t.scaler.Update(foundInf)

	if err := t.ema.Update(); err != nil {
		return nil, fmt.Errorf("EMA update failed: %v", err)
	}
	t.optim.ZeroGrad()

	runTime := time.Since(runStart)

	return map[string]float64{
		"train/sup_loss":      float64(supLoss),
		"train/unsup_loss":    float64(unsupLoss),
		"train/total_loss":    float64(totalLoss),
		"lr":                  lr,
		"train/prefetch_time": fetchTime.Seconds(),
		"train/run_time":      runTime.Seconds(),
	}, nil
}

// Evaluate runs the EMA-shadow model over the held-out set and returns
// loss, top-1, and top-5 accuracy. The shadow substitution and evaluation
// mode are fully reverted on every exit path, including mid-evaluation
// failures.
func (t *Trainer) Evaluate() (map[string]float64, error) {
	if t.evalLoader == nil {
		return nil, fmt.Errorf("evaluation loader not configured")
	}

	t.model.Eval()
	defer t.model.Train()

	var totalLoss, totalNum float64
	var top1, top5 int
	cm := NewConfusionMatrix(t.config.NumClasses)

	err := t.ema.WithShadow(func() error {
		t.evalLoader.Reset()
		for {
			batch, err := t.evalLoader.Next()
			if err != nil {
				return fmt.Errorf("evaluation batch fetch failed: %v", err)
			}
			if batch == nil {
				return nil
			}

			logits, err := t.model.Forward(batch.Data)
			if err != nil {
				return fmt.Errorf("evaluation forward pass failed: %v", err)
			}

			loss, err := t.supLoss.Forward(logits, batch.Labels)
			if err != nil {
				return fmt.Errorf("evaluation loss failed: %v", err)
			}

			n := batch.Data.Shape[0]
			totalLoss += float64(loss) * float64(n)
			totalNum += float64(n)

			c1, err := TopKCorrect(logits, batch.Labels, 1)
			if err != nil {
				return err
			}
			c5, err := TopKCorrect(logits, batch.Labels, 5)
			if err != nil {
				return err
			}
			top1 += c1
			top5 += c5

			numClasses := logits.Shape[1]
			for i, label := range batch.Labels {
				pred := Argmax(logits.Data[i*numClasses : (i+1)*numClasses])
				if err := cm.Update(label, pred); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if totalNum == 0 {
		return nil, fmt.Errorf("evaluation set is empty")
	}

	t.logf("confusion matrix:\n%s", cm.String())

	return map[string]float64{
		"eval/loss":      totalLoss / totalNum,
		"eval/top-1-acc": float64(top1) / totalNum,
		"eval/top-5-acc": float64(top5) / totalNum,
	}, nil
}

// SaveModel writes the five-field training state snapshot under
// <SaveDir>/<SaveName>/<name>. The EMA weights are captured under a scoped
// shadow apply/restore so the live weights are untouched afterwards.
func (t *Trainer) SaveModel(name string) error {
	var emaState map[string]*tensor.Tensor
	err := t.ema.WithShadow(func() error {
		emaState = layers.CloneStateMap(t.model)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to capture EMA state: %v", err)
	}

	optState, err := t.optim.GetState()
	if err != nil {
		return fmt.Errorf("failed to capture optimizer state: %v", err)
	}

	cp := &checkpoints.Checkpoint{
		Model:     checkpoints.ExtractWeights(layers.StateMap(t.model)),
		EMAModel:  checkpoints.ExtractWeights(emaState),
		Optimizer: optState,
		Scheduler: checkpoints.SchedulerState{
			Type:      t.scheduler.GetName(),
			BaseLR:    t.baseLR,
			StepCount: t.it,
		},
		Iteration: t.it,
	}

	path := filepath.Join(t.config.SaveDir, t.config.SaveName, name)
	if err := checkpoints.Save(cp, path); err != nil {
		return err
	}

	t.logf("model saved: %s", path)
	return nil
}

// LoadModel restores the full training state from a checkpoint. A naming
// mismatch between single-device and replicated checkpoints is reconciled
// deterministically: direct load first, then the replica prefix stripped,
// then added. Optimizer state, scheduler state, and the iteration counter
// are restored regardless of which mapping loaded the weights.
func (t *Trainer) LoadModel(path string) error {
	cp, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	t.logf("loading saved model from: %s", path)

	modelState, err := reconcileWeights(cp.Model, stateNames(t.model))
	if err != nil {
		return fmt.Errorf("model weights: %v", err)
	}
	if err := layers.LoadState(t.model, modelState); err != nil {
		return fmt.Errorf("failed to load model weights: %v", err)
	}

	emaState, err := reconcileWeights(cp.EMAModel, paramNames(t.model))
	if err != nil {
		return fmt.Errorf("EMA weights: %v", err)
	}
	t.emaSeed = emaState

	// Restored unconditionally, whichever mapping loaded the weights
	if cp.Optimizer != nil {
		if err := t.optim.LoadState(cp.Optimizer); err != nil {
			return fmt.Errorf("failed to load optimizer state: %v", err)
		}
	}
	if cp.Scheduler.BaseLR > 0 {
		t.baseLR = cp.Scheduler.BaseLR
	}
	t.it = cp.Iteration
	t.resumed = true

	return nil
}

// appendResultsLog appends "<run_name> <best_acc_percent>" to the shared
// results file. Best-effort: the run's substantive work is already done,
// so failures are swallowed.
func (t *Trainer) appendResultsLog() {
	dir := filepath.Join(t.config.SaveDir, "eval_acc")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}

	f, err := os.OpenFile(filepath.Join(dir, t.config.SaveName+".txt"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "%s %.2f\n", t.config.SaveName, t.bestEvalAcc*100)
}

// stateNames lists the names of all persistent tensors of a model.
func stateNames(m layers.Module) []string {
	var names []string
	for _, nt := range m.State() {
		names = append(names, nt.Name)
	}
	return names
}

// paramNames lists the names of the trainable parameters of a model.
func paramNames(m layers.Module) []string {
	var names []string
	for _, p := range m.Parameters() {
		names = append(names, p.Name)
	}
	return names
}

// reconcileWeights converts a checkpoint weight list into a name-keyed
// state map covering all required names, trying the identity mapping, the
// replica prefix stripped, and the replica prefix added, in that order.
func reconcileWeights(weights []checkpoints.WeightTensor, required []string) (map[string]*tensor.Tensor, error) {
	attempts := [][]checkpoints.WeightTensor{
		weights,
		checkpoints.StripPrefix(weights, checkpoints.ReplicaPrefix),
		checkpoints.AddPrefix(weights, checkpoints.ReplicaPrefix),
	}

	var lastErr error
	for _, ws := range attempts {
		state, err := checkpoints.WeightMap(ws)
		if err != nil {
			return nil, err
		}

		covered := true
		for _, name := range required {
			if _, ok := state[name]; !ok {
				covered = false
				lastErr = fmt.Errorf("%w: no value for %q", layers.ErrNameMismatch, name)
				break
			}
		}
		if covered {
			return state, nil
		}
	}

	if lastErr == nil {
		lastErr = errors.New("empty checkpoint")
	}
	return nil, fmt.Errorf("checkpoint is not compatible with the current model: %v", lastErr)
}
