// Package scan turns a captured leaf image into stored entities: the image
// itself, its analysis, and one disease-identified record per detection.
//
// A scan runs immediately when the inference service answers; otherwise it
// becomes a pending operation and runs on a later drain. Both paths go
// through the same processing code, so a scan that was interrupted mid-way
// simply overwrites its own entities when retried.
package scan

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arborsense/leafvault/internal/cache"
	"github.com/arborsense/leafvault/internal/connectivity"
	"github.com/arborsense/leafvault/internal/pending"
	"github.com/arborsense/leafvault/internal/remote"
	"github.com/arborsense/leafvault/pkg/types"
)

// Analyzer is the slice of the inference client the service needs.
type Analyzer interface {
	Analyze(ctx context.Context, scan *types.ScanRequest) (*remote.AnalysisResult, error)
}

// Result holds the entities one scan produced.
type Result struct {
	Image      *types.Entity
	Analysis   *types.Entity
	Detections []*types.Entity
}

// Service accepts scans and executes queued ones.
type Service struct {
	store     *cache.Store
	queue     *pending.Queue
	inference Analyzer
	monitor   *connectivity.Monitor
	logger    *log.Logger
}

// NewService wires the scan service and registers its drain handler on the
// queue. If logger is nil, a default logger writing to stderr is used.
func NewService(store *cache.Store, queue *pending.Queue, inference Analyzer,
	monitor *connectivity.Monitor, logger *log.Logger) *Service {

	if logger == nil {
		logger = log.New(os.Stderr, "[scan] ", log.LstdFlags)
	}
	s := &Service{
		store:     store,
		queue:     queue,
		inference: inference,
		monitor:   monitor,
		logger:    logger,
	}
	queue.RegisterHandler(types.OpKindNewScan, s.handleOp)
	queue.RegisterHandler(types.OpKindFeedback, s.handleFeedback)
	return s
}

// Submit accepts a scan. When the inference path is available the result
// comes back directly; when the device is offline or the service is
// unreachable the scan is queued durably and a nil Result is returned with
// the pending operation. Contract refusals are returned immediately and
// never queued.
func (s *Service) Submit(ctx context.Context, req *types.ScanRequest) (*Result, *types.PendingOp, error) {
	if s.monitor.Online() {
		result, err := s.process(ctx, req)
		if err == nil {
			return result, nil, nil
		}
		if errors.Is(err, types.ErrRejected) {
			return nil, nil, err
		}
		s.logger.Printf("direct scan failed, queueing: %v", err)
		s.monitor.SetOnline(false)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}
	op, err := s.queue.Enqueue(types.OpKindNewScan, payload)
	if err != nil {
		return nil, nil, err
	}
	return nil, op, nil
}

// handleOp executes one queued scan during a drain.
func (s *Service) handleOp(ctx context.Context, op *types.PendingOp) error {
	var req types.ScanRequest
	if err := json.Unmarshal(op.Payload, &req); err != nil {
		return fmt.Errorf("malformed scan payload: %w", types.ErrRejected)
	}
	_, err := s.process(ctx, &req)
	return err
}

// process runs inference and stores the resulting entities. The image id is
// derived from the request so a retried scan overwrites rather than
// duplicates.
func (s *Service) process(ctx context.Context, req *types.ScanRequest) (*Result, error) {
	analysis, err := s.inference.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	treeID, err := s.findTreeID(req.TreeCode)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	imageID := deterministicID("image", req)
	image := &types.Entity{
		ID:         imageID,
		Collection: types.CollectionImages,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := image.EncodePayload(types.Image{
		TreeID:   treeID,
		Data:     req.ImageData,
		MimeType: req.MimeType,
		OwnerID:  req.UserID,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(types.CollectionImages, image); err != nil {
		return nil, err
	}

	analysisID := deterministicID("analysis", req)
	analysisEntity := &types.Entity{
		ID:         analysisID,
		Collection: types.CollectionAnalyses,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := analysisEntity.EncodePayload(types.Analysis{
		ImageID:       imageID,
		AnalyzedImage: base64.StdEncoding.EncodeToString(analysis.AnalyzedImage),
		BoundingBoxes: analysis.BoundingBoxes,
	}); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(types.CollectionAnalyses, analysisEntity); err != nil {
		return nil, err
	}

	result := &Result{Image: image, Analysis: analysisEntity}
	for i, detection := range analysis.Detections {
		identified := &types.Entity{
			ID:         fmt.Sprintf("%s-d%d", analysisID, i),
			Collection: types.CollectionDiseaseIdentified,
			Status:     types.StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := identified.EncodePayload(types.DiseaseIdentified{
			AnalysisID:      analysisID,
			DiseaseName:     detection.DiseaseName,
			LikelihoodScore: detection.LikelihoodScore,
		}); err != nil {
			return nil, err
		}
		if err := s.store.Upsert(types.CollectionDiseaseIdentified, identified); err != nil {
			return nil, err
		}
		result.Detections = append(result.Detections, identified)
	}

	s.logger.Printf("scan for tree %s stored: image %s, %d detections",
		req.TreeCode, imageID, len(result.Detections))
	return result, nil
}

// findTreeID resolves a tree code to its entity id. Unknown codes are a
// contract violation: retrying cannot fix them.
func (s *Service) findTreeID(code string) (string, error) {
	trees, err := s.store.List(types.CollectionTrees, func(e *types.Entity) bool {
		if !e.Visible() {
			return false
		}
		var tree types.Tree
		if e.DecodePayload(&tree) != nil {
			return false
		}
		return tree.Code == code
	})
	if err != nil {
		return "", err
	}
	if len(trees) == 0 {
		return "", fmt.Errorf("no tree with code %q: %w", code, types.ErrRejected)
	}
	return trees[0].ID, nil
}

// deterministicID derives a stable entity id from the request content, so a
// scan retried after a crash lands on the same rows.
func deterministicID(kind string, req *types.ScanRequest) string {
	seed := fmt.Sprintf("%s|%d|%s|%s", kind, req.UserID, req.TreeCode, req.ImageData)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
