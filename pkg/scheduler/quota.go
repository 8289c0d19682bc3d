package scheduler

import (
	"context"

	"github.com/backendai/manager/pkg/apierrors"
	"github.com/backendai/manager/pkg/domain"
)

// checkQuota implements the three-level quota check of spec §4.4: the
// smallest of keypair, project, and domain remaining capacity bounds each
// slot, plus the keypair policy's concurrent-session and
// containers-per-session ceilings.
func (s *Scheduler) checkQuota(ctx context.Context, sess *domain.Session, requested domain.ResourceSlot, kernelCount int) error {
	kp, err := s.Store.GetKeyPair(ctx, sess.AccessKey)
	if err != nil {
		return err
	}
	policy, err := s.Store.GetKeypairResourcePolicy(ctx, kp.ResourcePolicy)
	if err != nil {
		return err
	}
	if policy.MaxContainersPerSession > 0 && kernelCount > policy.MaxContainersPerSession {
		return apierrors.NewQuotaExceeded("session %s requests %d containers, policy allows %d", sess.ID, kernelCount, policy.MaxContainersPerSession)
	}

	activeCount, err := s.Store.CountActiveSessionsForKeyPair(ctx, sess.AccessKey)
	if err != nil {
		return err
	}
	if policy.MaxConcurrentSessions > 0 && activeCount >= policy.MaxConcurrentSessions {
		return apierrors.NewQuotaExceeded("keypair %s already has %d concurrent sessions, policy allows %d", sess.AccessKey, activeCount, policy.MaxConcurrentSessions)
	}

	project, err := s.Store.GetProject(ctx, sess.Project)
	if err != nil {
		return err
	}
	dom, err := s.Store.GetDomain(ctx, sess.Domain)
	if err != nil {
		return err
	}

	active, err := s.Store.ListSessionsByStatuses(ctx, occupancyStatuses)
	if err != nil {
		return err
	}
	keypairUsed, projectUsed, domainUsed := domain.ResourceSlot{}, domain.ResourceSlot{}, domain.ResourceSlot{}
	for _, other := range active {
		if other.ID == sess.ID {
			continue
		}
		used := occupancyOf(other)
		if other.AccessKey == sess.AccessKey {
			keypairUsed = keypairUsed.Add(used)
		}
		if other.Project == sess.Project {
			projectUsed = projectUsed.Add(used)
		}
		if other.Domain == sess.Domain {
			domainUsed = domainUsed.Add(used)
		}
	}

	if !requested.LessEqual(policy.TotalResourceSlots.Sub(keypairUsed)) {
		return apierrors.NewQuotaExceeded("session %s exceeds keypair %s resource policy", sess.ID, sess.AccessKey)
	}
	if !requested.LessEqual(project.TotalQuota.Sub(projectUsed)) {
		return apierrors.NewQuotaExceeded("session %s exceeds project %s quota", sess.ID, sess.Project)
	}
	if !requested.LessEqual(dom.TotalQuota.Sub(domainUsed)) {
		return apierrors.NewQuotaExceeded("session %s exceeds domain %s quota", sess.ID, sess.Domain)
	}
	return nil
}

// occupancyOf returns a session's resource footprint for quota accounting:
// OccupiedSlots once the scheduler has created its kernels, RequestedSlots
// before that (the reservation still holds the capacity).
func occupancyOf(sess *domain.Session) domain.ResourceSlot {
	if !sess.OccupiedSlots.IsZero() {
		return sess.OccupiedSlots
	}
	return sess.RequestedSlots
}
