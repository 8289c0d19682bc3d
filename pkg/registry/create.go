package registry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/backendai/manager/pkg/apierrors"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/waiter"
)

// CreateSessionRequest is everything spec §4.5's create_session takes as
// input. A single Image/RequestedSlots pair is applied uniformly to every
// kernel of the cluster; per-kernel divergent images or slot shapes are a
// simplification this module doesn't model.
type CreateSessionRequest struct {
	Name         string
	AccessKey    string
	Domain       string
	Project      string
	ScalingGroup string
	Type         domain.SessionType
	ClusterMode  domain.ClusterMode
	ClusterSize  int
	Priority     int

	Image           domain.ImageRef
	VFolderMounts   []domain.VFolderMount
	Environ         map[string]string
	RequestedSlots  domain.ResourceSlot
	StartupCommand  string
	BootstrapScript string
	PreopenPorts    []int

	Dependencies []string
	StartsAt     *time.Time
	BatchTimeout *time.Duration
	CallbackURL  string

	Reuse          bool
	EnqueueOnly    bool
	MaxWaitSeconds int
}

// CreateSessionResult is what create_session returns to its caller.
type CreateSessionResult struct {
	SessionID    string
	Reused       bool
	Status       domain.Status
	Timeout      bool
	ServicePorts []domain.ServicePort
}

// CreateSession implements spec §4.5's create_session: validate, resolve,
// check for reuse, enqueue, and optionally wait for the session to leave
// PENDING.
func (r *Registry) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	if err := validateAliasFolders(req.VFolderMounts); err != nil {
		return nil, err
	}
	if err := r.validateKnownSlots(req.RequestedSlots); err != nil {
		return nil, err
	}
	if err := r.validatePriority(req.Priority); err != nil {
		return nil, err
	}

	img, err := r.Store.GetImage(ctx, req.Image.Canonical, req.Image.Architecture)
	if err != nil {
		return nil, err
	}
	if owner, ok := img.Labels[domain.OwnerLabel]; ok && owner != "" && owner != req.AccessKey {
		return nil, apierrors.NewInvalidArgument("image %s is a customized image owned by another keypair", img.Canonical)
	}
	dom, err := r.Store.GetDomain(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	if !dom.IsActive {
		return nil, apierrors.NewInvalidArgument("domain %s is not active", req.Domain)
	}

	if existing, err := r.Store.FindActiveSessionByNameAndAccessKey(ctx, req.Name, req.AccessKey); err != nil {
		return nil, err
	} else if existing != nil {
		sameImage := len(existing.Images) > 0 && existing.Images[0].Canonical == req.Image.Canonical && existing.Images[0].Architecture == req.Image.Architecture
		if req.Reuse && sameImage {
			return &CreateSessionResult{SessionID: existing.ID, Reused: true, Status: existing.Status}, nil
		}
		return nil, &apierrors.SessionAlreadyExists{Name: req.Name, AccessKey: req.AccessKey}
	}

	if err := validateBatch(req); err != nil {
		return nil, err
	}

	if !req.RequestedSlots.ValidateShmem(r.Config.DefaultSharedMemorySize) {
		return nil, apierrors.NewInvalidArgument("shared_memory must be less than mem")
	}
	if !img.ValidateRequestedSlots(req.RequestedSlots) {
		return nil, apierrors.NewInvalidArgument("requested resource slots fall outside image %s's allowed range", img.Canonical)
	}

	sessionID := uuid.NewString()
	now := time.Now()

	sess := &domain.Session{
		ID:             sessionID,
		Name:           req.Name,
		AccessKey:      req.AccessKey,
		Domain:         req.Domain,
		Project:        req.Project,
		ScalingGroup:   req.ScalingGroup,
		Type:           req.Type,
		ClusterMode:    req.ClusterMode,
		ClusterSize:    req.ClusterSize,
		Priority:       req.Priority,
		Status:         domain.StatusPending,
		Images:         []domain.ImageRef{req.Image},
		VFolderMounts:  req.VFolderMounts,
		Environ:        req.Environ,
		RequestedSlots: req.RequestedSlots,
		StartsAt:       req.StartsAt,
		BatchTimeout:   req.BatchTimeout,
		CallbackURL:    req.CallbackURL,
		CreatedAt:      now,
	}
	sess.RecordStatus(domain.StatusPending, domain.ReasonUserRequested, now)

	kernels := buildKernels(sess, req)

	if err := r.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := r.Store.InsertSession(ctx, sess); err != nil {
			return err
		}
		for _, k := range kernels {
			if err := r.Store.InsertKernel(ctx, k); err != nil {
				return err
			}
		}
		for _, dep := range req.Dependencies {
			exists, err := r.Store.SessionExistsForOwner(ctx, dep, req.AccessKey)
			if err != nil {
				return err
			}
			if !exists {
				return apierrors.NewInvalidArgument("dependency %s does not exist for this access key", dep)
			}
			if err := r.Store.InsertDependency(ctx, domain.SessionDependency{Dependent: sessionID, DependsOn: dep}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if r.Waiter != nil {
		r.Waiter.Register(sessionID)
	}
	if r.Bus != nil {
		if err := r.Bus.Produce(ctx, &events.SessionEnqueued{SessionID: sessionID, CreationID: sessionID}, events.ManagerSource); err != nil {
			r.logger().Warn().Err(err).Str("session_id", sessionID).Msg("publish session_enqueued failed")
		}
		if err := r.Bus.IncrKeypairConcurrency(ctx, req.AccessKey, req.Type); err != nil {
			r.logger().Warn().Err(err).Str("session_id", sessionID).Msg("incr keypair concurrency failed")
		}
	}

	if req.EnqueueOnly {
		return &CreateSessionResult{SessionID: sessionID, Status: domain.StatusPending}, nil
	}

	maxWait := time.Duration(req.MaxWaitSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = r.Config.DefaultMaxWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	outcome := waiter.OutcomeTimeout
	if r.Waiter != nil {
		outcome = r.Waiter.Wait(waitCtx, sessionID)
	}
	if outcome == waiter.OutcomeTimeout {
		return &CreateSessionResult{SessionID: sessionID, Status: domain.StatusPending, Timeout: true}, nil
	}

	final, err := r.Store.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	result := &CreateSessionResult{SessionID: sessionID, Status: final.Status}
	if main, err := r.Store.GetMainKernel(ctx, sessionID); err == nil {
		result.ServicePorts = main.ServicePorts
	}
	return result, nil
}

func buildKernels(sess *domain.Session, req CreateSessionRequest) []*domain.Kernel {
	size := req.ClusterSize
	if size < 1 {
		size = 1
	}
	kernels := make([]*domain.Kernel, 0, size)
	for i := 0; i < size; i++ {
		role := domain.ClusterRoleSub
		if i == 0 {
			role = domain.ClusterRoleMain
		}
		k := &domain.Kernel{
			ID:              uuid.NewString(),
			SessionID:       sess.ID,
			ClusterRole:     role,
			ClusterIdx:      i,
			Image:           req.Image,
			RequestedSlots:  req.RequestedSlots,
			Status:          domain.StatusPending,
			StartupCommand:  req.StartupCommand,
			BootstrapScript: req.BootstrapScript,
			PreopenPorts:    req.PreopenPorts,
			CreatedAt:       sess.CreatedAt,
		}
		k.RecordStatus(domain.StatusPending, domain.ReasonUserRequested, sess.CreatedAt)
		kernels = append(kernels, k)
	}
	return kernels
}

// validateAliasFolders rejects a mount_map whose aliases collide or target
// a reserved path. The original system's verify_vfolder_name's full
// reserved-name table isn't part of this module's reference material;
// this keeps its two load-bearing rules: no duplicate alias, no dotfile or
// bare-root alias.
func validateAliasFolders(mounts []domain.VFolderMount) error {
	seen := make(map[string]bool, len(mounts))
	for _, m := range mounts {
		alias := strings.TrimPrefix(m.MountPath, "/home/work/")
		if alias == "" {
			return apierrors.NewInvalidArgument("vfolder mount path must not be empty")
		}
		if seen[alias] {
			return apierrors.NewInvalidArgument("duplicate alias folder name: %s", alias)
		}
		seen[alias] = true
		if strings.HasPrefix(alias, ".") || alias == "/" {
			return apierrors.NewInvalidArgument("%s is reserved for internal path", alias)
		}
	}
	return nil
}

func (r *Registry) validateKnownSlots(requested domain.ResourceSlot) error {
	known := r.knownSlots()
	for name := range requested {
		if _, ok := known[name]; !ok {
			return apierrors.NewInvalidArgument("unknown resource slot name: %s", name)
		}
	}
	return nil
}

// validatePriority enforces spec §3's "priority clamped to a configured
// range" and spec §8's boundary behavior: a priority outside
// [PriorityMin, PriorityMax] is rejected rather than silently clamped, so
// the caller learns its request was out of range instead of getting a
// session scheduled at an unexpected priority.
func (r *Registry) validatePriority(priority int) error {
	min, max := r.Config.PriorityMin, r.Config.PriorityMax
	if min == 0 && max == 0 {
		return nil
	}
	if priority < min || priority > max {
		return apierrors.NewInvalidArgument("priority %d outside allowed range [%d, %d]", priority, min, max)
	}
	return nil
}

func validateBatch(req CreateSessionRequest) error {
	if req.Type == domain.SessionTypeBatch {
		if req.StartupCommand == "" {
			return apierrors.NewInvalidArgument("batch sessions require a non-empty startup command")
		}
		return nil
	}
	if req.StartsAt != nil || req.BatchTimeout != nil {
		return apierrors.NewInvalidArgument("starts_at and batch_timeout are only valid for batch sessions")
	}
	return nil
}
