package detectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	maxSeqLen     = 512
	chunkOverlap  = 64
	minConfidence = 0.5
)

// ONNXModelDetector runs a token classification model exported to ONNX.
// Input and output tensors are allocated once and reused, so Detect must not
// be called concurrently.
type ONNXModelDetector struct {
	tokenizer     *tokenizers.Tokenizer
	session       *onnxruntime.AdvancedSession
	inputTensor   *onnxruntime.Tensor[int64]
	maskTensor    *onnxruntime.Tensor[int64]
	outputTensor  *onnxruntime.Tensor[float32]
	id2label      map[string]string
	numPIILabels  int
	modelPath     string
	outputName    string
	logger        *zap.Logger
	runtime       *Runtime
	holdsRuntime  bool
	sessionOpened bool
}

// ONNXOption configures an ONNXModelDetector.
type ONNXOption func(*ONNXModelDetector)

// WithONNXLogger sets the logger used for per-entity debug output.
func WithONNXLogger(logger *zap.Logger) ONNXOption {
	return func(d *ONNXModelDetector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// labelMappings is the layout of label_mappings.json.
type labelMappings struct {
	PII struct {
		ID2Label map[string]string `json:"id2label"`
		Label2ID map[string]int    `json:"label2id"`
	} `json:"pii"`
	OutputName string `json:"output_name"`
}

// safeUintToInt safely converts a uint to int with bounds checking
// Returns maxInt if the value would overflow
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}

func sharedLibraryPath() string {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	candidates := []string{
		"./libonnxruntime.so",
		"./build/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"./libonnxruntime.dylib",
		"./build/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// NewONNXModelDetector creates a new ONNX model detector. The session is
// created lazily on first Detect.
func NewONNXModelDetector(modelPath, tokenizerPath, labelMapPath string, opts ...ONNXOption) (*ONNXModelDetector, error) {
	configData, err := os.ReadFile(labelMapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read label mappings: %w", err)
	}
	var mappings labelMappings
	if err := json.Unmarshal(configData, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse label mappings: %w", err)
	}
	numPIILabels := countLabels(mappings.PII.ID2Label, mappings.PII.Label2ID)
	if numPIILabels == 0 {
		return nil, fmt.Errorf("label mappings in %s define no labels", labelMapPath)
	}

	outputName := mappings.OutputName
	if outputName == "" {
		outputName = "pii_logits"
	}

	detector := &ONNXModelDetector{
		id2label:     mappings.PII.ID2Label,
		numPIILabels: numPIILabels,
		modelPath:    modelPath,
		outputName:   outputName,
		logger:       zap.NewNop(),
		runtime:      defaultRuntime,
	}
	for _, opt := range opts {
		opt(detector)
	}

	if err := detector.runtime.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX Runtime environment: %v", ErrUnavailable, err)
	}
	detector.holdsRuntime = true

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		_ = detector.Close()
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	detector.tokenizer = tk

	return detector, nil
}

// countLabels finds the maximum label ID and adds 1, falling back to the
// label2id size.
func countLabels(id2label map[string]string, label2id map[string]int) int {
	n := 0
	for idStr := range id2label {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 {
			continue
		}
		if id >= n {
			n = id + 1
		}
	}
	if n == 0 {
		n = len(label2id)
	}
	return n
}

// GetName returns the name of this detector
func (d *ONNXModelDetector) GetName() string {
	return DetectorNameONNXModel
}

// SafeForConcurrentUse reports false: tensors are shared between calls.
func (d *ONNXModelDetector) SafeForConcurrentUse() bool {
	return false
}

// Detect processes the input and returns detected entities
func (d *ONNXModelDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	if !d.sessionOpened {
		if err := d.initializeSession(); err != nil {
			return DetectorOutput{}, fmt.Errorf("%w: failed to initialize session: %v", ErrUnavailable, err)
		}
	}

	encoding := d.tokenizer.EncodeWithOptions(input.Text, true, tokenizers.WithReturnOffsets())
	chunks := chunkTokens(encoding.IDs, encoding.Offsets)

	perChunk := make([][]Entity, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return DetectorOutput{}, err
		}
		if len(chunk.tokenIDs) == 0 {
			continue
		}

		d.updateInputTensors(chunk.tokenIDs)
		if err := d.session.Run(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to run inference: %w", err)
		}
		perChunk = append(perChunk, d.processOutput(input.Text, chunk))
	}

	entities := mergeChunkEntities(perChunk)
	for _, entity := range entities {
		d.logger.Debug("Detected entity",
			zap.String("label", entity.Label),
			zap.Float64("confidence", entity.Confidence),
			zap.Int("start", entity.StartPos),
			zap.Int("end", entity.EndPos))
	}

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// tokenChunk is one model-sized window over the encoded tokens.
type tokenChunk struct {
	tokenIDs        []uint32
	offsets         []tokenizers.Offset
	startTokenIndex int
	isFirst         bool
	isLast          bool
}

// chunkTokens splits tokens into windows of at most maxSeqLen tokens that
// overlap by chunkOverlap tokens.
func chunkTokens(tokenIDs []uint32, offsets []tokenizers.Offset) []tokenChunk {
	n := len(tokenIDs)
	if len(offsets) < n {
		n = len(offsets)
	}
	if n <= maxSeqLen {
		return []tokenChunk{{
			tokenIDs:        tokenIDs[:n],
			offsets:         offsets[:n],
			startTokenIndex: 0,
			isFirst:         true,
			isLast:          true,
		}}
	}

	stride := maxSeqLen - chunkOverlap
	var chunks []tokenChunk
	for start := 0; ; start += stride {
		end := start + maxSeqLen
		if end > n {
			end = n
		}
		chunks = append(chunks, tokenChunk{
			tokenIDs:        tokenIDs[start:end],
			offsets:         offsets[start:end],
			startTokenIndex: start,
			isFirst:         start == 0,
			isLast:          end == n,
		})
		if end == n {
			break
		}
	}
	return chunks
}

// mergeChunkEntities flattens per-chunk results, orders them by position and
// collapses overlapping spans (from chunk overlap regions) keeping the more
// confident one. Adjacent spans are kept apart.
func mergeChunkEntities(chunks [][]Entity) []Entity {
	var all []Entity
	for _, c := range chunks {
		all = append(all, c...)
	}
	if len(all) == 0 {
		return []Entity{}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartPos != all[j].StartPos {
			return all[i].StartPos < all[j].StartPos
		}
		return all[i].Confidence > all[j].Confidence
	})

	merged := []Entity{all[0]}
	for _, e := range all[1:] {
		last := &merged[len(merged)-1]
		if e.StartPos < last.EndPos {
			if e.Confidence > last.Confidence {
				*last = e
			}
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

// processOutput converts the logits of one chunk into entities using BIO
// grouping.
func (d *ONNXModelDetector) processOutput(originalText string, chunk tokenChunk) []Entity {
	outputData := d.outputTensor.GetData()
	entities := []Entity{}

	var currentEntity *Entity
	var currentTokens []int

	flush := func() {
		if currentEntity != nil {
			d.finalizeEntity(currentEntity, currentTokens, originalText, chunk.offsets)
			if currentEntity.EndPos > currentEntity.StartPos {
				entities = append(entities, *currentEntity)
			}
		}
		currentEntity = nil
		currentTokens = nil
	}

	for i := range chunk.tokenIDs {
		startIdx := i * d.numPIILabels
		endIdx := startIdx + d.numPIILabels
		if endIdx > len(outputData) {
			break
		}

		label, confidence := d.classify(outputData[startIdx:endIdx])
		// special tokens carry an empty offset
		if chunk.offsets[i][0] == chunk.offsets[i][1] {
			label = "O"
		}
		if confidence < minConfidence {
			label = "O"
		}

		isBeginning := strings.HasPrefix(label, "B-")
		baseLabel := strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")

		switch {
		case label != "O" && (isBeginning || currentEntity == nil || currentEntity.Label != baseLabel):
			flush()
			currentEntity = &Entity{
				Label:      baseLabel,
				Confidence: confidence,
			}
			currentTokens = []int{i}
		case label != "O":
			currentTokens = append(currentTokens, i)
			currentEntity.Confidence = (currentEntity.Confidence + confidence) / 2
		default:
			flush()
		}
	}
	flush()

	return entities
}

// classify returns the arg-max label and its softmax probability.
func (d *ONNXModelDetector) classify(logits []float32) (string, float64) {
	maxLogit := float64(-math.MaxFloat64)
	bestClass := 0
	for j, logit := range logits {
		if float64(logit) > maxLogit {
			maxLogit = float64(logit)
			bestClass = j
		}
	}

	var sum float64
	for _, logit := range logits {
		sum += math.Exp(float64(logit) - maxLogit)
	}
	confidence := 1 / sum

	label, ok := d.id2label[strconv.Itoa(bestClass)]
	if !ok {
		label = "O"
	}
	return label, confidence
}

// finalizeEntity extracts the actual text from the original string using token offsets
func (d *ONNXModelDetector) finalizeEntity(entity *Entity, tokenIndices []int, originalText string, offsets []tokenizers.Offset) {
	if len(tokenIndices) == 0 {
		return
	}

	start := safeUintToInt(offsets[tokenIndices[0]][0])
	end := safeUintToInt(offsets[tokenIndices[len(tokenIndices)-1]][1])
	if end > len(originalText) {
		end = len(originalText)
	}
	if start >= end {
		return
	}

	entity.Text = originalText[start:end]
	entity.StartPos = start
	entity.EndPos = end
}

// initializeSession initializes the ONNX session and tensors
func (d *ONNXModelDetector) initializeSession() error {
	inputShape := onnxruntime.NewShape(1, maxSeqLen)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSeqLen))
	if err != nil {
		_ = inputTensor.Destroy()
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(1, maxSeqLen, int64(d.numPIILabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = maskTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(d.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{d.outputName},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = maskTensor.Destroy()
		_ = outputTensor.Destroy()
		return fmt.Errorf("failed to create session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.maskTensor = maskTensor
	d.outputTensor = outputTensor
	d.sessionOpened = true
	return nil
}

// updateInputTensors copies one chunk into the reused input tensors
func (d *ONNXModelDetector) updateInputTensors(tokenIDs []uint32) {
	inputData := d.inputTensor.GetData()
	maskData := d.maskTensor.GetData()

	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}
	for i, id := range tokenIDs {
		inputData[i] = int64(id)
		maskData[i] = 1
	}
}

// Close implements the Detector interface
func (d *ONNXModelDetector) Close() error {
	var errs []error

	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
	}
	if d.inputTensor != nil {
		if err := d.inputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy input tensor: %w", err))
		}
	}
	if d.maskTensor != nil {
		if err := d.maskTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy mask tensor: %w", err))
		}
	}
	if d.outputTensor != nil {
		if err := d.outputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy output tensor: %w", err))
		}
	}
	if d.tokenizer != nil {
		if err := d.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
	}
	if d.holdsRuntime {
		if err := d.runtime.Release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release runtime: %w", err))
		}
		d.holdsRuntime = false
	}
	d.sessionOpened = false

	return errors.Join(errs...)
}
