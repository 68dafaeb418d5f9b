package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ayusman/formcheck/internal/delivery"
	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/pose"
	"github.com/ayusman/formcheck/internal/reference"
	"github.com/ayusman/formcheck/internal/render"
	"github.com/ayusman/formcheck/internal/session"
	"github.com/ayusman/formcheck/internal/store"
)

// LoadReference builds the reference motion from the configured source and
// swaps it in. Extraction runs on a dedicated estimator, so live sessions keep
// their workers while a video is decoded. On failure the current reference, if
// any, stays in place and the error matches reference.ErrReferenceUnavailable.
func (a *App) LoadReference(ctx context.Context) (int, error) {
	path := a.settings.Reference.Path
	if path == "" {
		return 0, fmt.Errorf("%w: no reference path configured", reference.ErrReferenceUnavailable)
	}

	a.refMu.Lock()
	defer a.refMu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	est, err := a.referenceEstimator()
	if err != nil {
		log.Printf("Reference not loaded from %s: %v", path, err)
		return 0, fmt.Errorf("%w: %v", reference.ErrReferenceUnavailable, err)
	}

	frames, err := reference.LoadFile(path, est, nil)
	if err != nil {
		log.Printf("Reference not loaded from %s: %v", path, err)
		return 0, err
	}

	seq, err := a.engine.References().Load(path, frames)
	if err != nil {
		log.Printf("Reference not loaded from %s: %v", path, err)
		return 0, err
	}

	log.Printf("Reference loaded: %d frames from %s", seq.Len(), path)
	return seq.Len(), nil
}

// referenceEstimator returns the extraction estimator, creating it on first
// use. a.refMu must be held.
func (a *App) referenceEstimator() (pose.Estimator, error) {
	if a.refEst != nil {
		return a.refEst, nil
	}
	factory := a.config.NewEstimator
	if factory == nil {
		factory = serviceEstimatorFactory(a.settings)
	}
	est, err := factory(a.pool.Size())
	if err != nil {
		return nil, err
	}
	a.refEst = est
	return est, nil
}

// StartSession registers a new session.
func (a *App) StartSession(id string) {
	a.engine.StartSession(id)
}

// AbandonSession discards a session without producing a summary. It is queued
// behind the session's pending frames so none of them recreate it afterwards.
func (a *App) AbandonSession(id string) {
	err := a.pool.Submit(context.Background(), id, func(pose.Estimator) {
		if a.engine.Abandon(id) {
			log.Printf("Session %s abandoned", id)
		}
	})
	if err != nil {
		a.engine.Abandon(id)
	}
}

// FrameResult is the response to one live frame.
type FrameResult struct {
	// Image is the annotated frame as a base64 JPEG.
	Image string
	// Detected is false when no body was found in the frame.
	Detected bool
	// Compared is false when no reference is loaded.
	Compared    bool
	Deviations  []deviation.Entry
	TotalErrors int
}

// ProcessFrame runs one base64 encoded camera frame through pose estimation and
// the comparison engine, and returns it annotated.
//
// The whole frame is handled on the session's worker, so frames of a session are
// scored in the order they were submitted. A frame with no detected body is
// scored as an all-zero skeleton.
func (a *App) ProcessFrame(ctx context.Context, id, image string) (*FrameResult, error) {
	var res *FrameResult
	err := a.pool.Do(ctx, id, func(est pose.Estimator) error {
		img, err := render.DecodeBase64(image)
		defer img.Close()
		if err != nil {
			return err
		}

		kp, detected, err := est.Estimate(&img)
		if err != nil {
			return fmt.Errorf("estimate pose: %w", err)
		}

		r, err := a.engine.ProcessFrame(id, kp)
		if err != nil {
			return err
		}

		render.Annotate(&img, render.Overlay{
			Keypoints:  kp,
			Deviations: r.Deviations,
			Compared:   r.Compared,
		})
		encoded, err := render.EncodeBase64(img)
		if err != nil {
			return err
		}

		res = &FrameResult{
			Image:       encoded,
			Detected:    detected,
			Compared:    r.Compared,
			Deviations:  r.Deviations,
			TotalErrors: r.Total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EndResult describes a finished session.
type EndResult struct {
	Summary *session.Summary
	// Record is the persisted copy, nil when no store is configured or saving failed.
	Record *store.SessionSummary
	// DeliveryErr is the delivery failure, if any. It matches delivery.ErrDeliveryFailed.
	DeliveryErr error
}

// EndSession finalizes a session, saves its summary and delivers it.
//
// A missing subject id fails with session.ErrMissingSubjectID and keeps the
// session. Once finalized the session is gone whatever happens to delivery; a
// delivery failure is returned both as the error and in EndResult.
func (a *App) EndSession(ctx context.Context, id, subjectID, programID string) (*EndResult, error) {
	var summary *session.Summary
	err := a.pool.Do(ctx, id, func(pose.Estimator) error {
		var err error
		summary, err = a.engine.Finalize(id, subjectID, programID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Session ended for user %s: %d deviations over %d frames",
		summary.SubjectID, summary.TotalErrors, summary.FramesProcessed)

	res := &EndResult{Summary: summary}
	if st := a.config.Store; st != nil {
		rec, err := st.Summaries().Create(summary)
		if err != nil {
			log.Printf("Failed to save summary of session %s: %v", id, err)
		} else {
			res.Record = rec
		}
	}

	res.DeliveryErr = a.deliverer.Deliver(ctx, summary)
	if res.DeliveryErr != nil {
		log.Printf("Failed to deliver summary of session %s: %v", id, res.DeliveryErr)
	}

	if res.Record != nil {
		if err := a.config.Store.Summaries().SetDelivery(res.Record.ID, res.DeliveryErr); err != nil {
			log.Printf("Failed to record delivery of %s: %v", res.Record.ID, err)
		} else {
			res.Record.Delivered = res.DeliveryErr == nil
			if res.DeliveryErr != nil {
				res.Record.DeliveryError = res.DeliveryErr.Error()
			}
		}
	}

	return res, res.DeliveryErr
}

// DeliveryMessage returns the user-facing message for a failed delivery.
func DeliveryMessage(err error) string {
	var de *delivery.Error
	if errors.As(err, &de) && de.Rejected() {
		return "Failed to save session on server"
	}
	return "Server connection failed"
}
