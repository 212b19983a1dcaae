package evaluation

import (
	"context"
	"errors"
	"log/slog"

	"disco/internal/backend"
	"disco/internal/config"
	"disco/internal/ensemble"
	"disco/internal/ensemble/onnxmodel"
	"disco/internal/logging"
	"disco/internal/modelstore"
)

// MemberSource produces the ensemble for a run. The returned release func
// frees every member and must be called once the run finishes.
type MemberSource interface {
	Open(ctx context.Context, b backend.Backend, classes []string) ([]ensemble.Member, func() error, error)
}

// MemberSourceFunc adapts a function to MemberSource.
type MemberSourceFunc func(ctx context.Context, b backend.Backend, classes []string) ([]ensemble.Member, func() error, error)

func (f MemberSourceFunc) Open(ctx context.Context, b backend.Backend, classes []string) ([]ensemble.Member, func() error, error) {
	return f(ctx, b, classes)
}

// StaticMembers serves a fixed, already loaded ensemble.
func StaticMembers(members ...ensemble.Member) MemberSource {
	return MemberSourceFunc(func(context.Context, backend.Backend, []string) ([]ensemble.Member, func() error, error) {
		return members, func() error { return nil }, nil
	})
}

// ONNXMembers resolves the ensemble through the model store and opens one
// ONNX Runtime session per member.
type ONNXMembers struct {
	Models config.Models
	Logger *slog.Logger
}

func (s ONNXMembers) Open(ctx context.Context, b backend.Backend, classes []string) ([]ensemble.Member, func() error, error) {
	logger := logging.NewComponentLogger(s.Logger, "models")

	ens, err := modelstore.NewResolver(s.Models, s.Logger).Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := ens.Manifest.CheckClasses(classes); err != nil {
		return nil, nil, err
	}
	if err := onnxmodel.InitEnvironment(s.Models.ONNXLibrary); err != nil {
		return nil, nil, err
	}

	members := make([]ensemble.Member, 0, len(ens.Specs))
	release := func() error {
		return errors.Join(ensemble.CloseAll(members), onnxmodel.ReleaseEnvironment())
	}
	for _, spec := range ens.Specs {
		model, err := onnxmodel.Load(spec, b, len(classes))
		if err != nil {
			_ = release()
			return nil, nil, err
		}
		members = append(members, model)
		logger.Debug("member loaded",
			logging.String(logging.FieldMember, spec.ID),
			logging.String("path", spec.Path),
			logging.String("backend", b.String()),
		)
	}
	logger.Info("ensemble loaded",
		logging.Int("members", len(members)),
		logging.String("origin", string(ens.Origin)),
		logging.String("backend", b.String()),
	)
	return members, release, nil
}
