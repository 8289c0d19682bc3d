package registry

import (
	"context"
	"time"

	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/apierrors"
	"github.com/backendai/manager/pkg/domain"
)

// mainKernelRPC resolves a session's main kernel and opens an RPC context
// to its agent, keyed by the kernel id so a slow call to one kernel can't
// reorder a fast one to another kernel of the same session. Every thin
// wrapper in this file (spec §4.5) shares this path.
func (r *Registry) mainKernelRPC(ctx context.Context, sessionID string, timeout time.Duration) (*domain.Kernel, *agentrpc.Context, error) {
	k, err := r.Store.GetMainKernel(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if k.Status != domain.StatusRunning {
		return nil, nil, apierrors.NewInvalidArgument("session %s's main kernel is not running", sessionID)
	}
	if k.AgentID == nil {
		return nil, nil, apierrors.NewInvalidArgument("session %s's main kernel has no agent binding", sessionID)
	}
	return k, r.Pool.Invoke(*k.AgentID, k.ID, timeout), nil
}

func wrapAgentErr(agentID string, err error) error {
	if err == nil {
		return nil
	}
	return &apierrors.BackendAgentError{Kind: apierrors.BackendAgentFailure, AgentID: agentID, Err: err}
}

// Execute runs one code cell against the session's main kernel.
func (r *Registry) Execute(ctx context.Context, sessionID string, req agentrpc.ExecuteRequest) (*agentrpc.ExecuteResponse, error) {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.WriteTimeout)
	if err != nil {
		return nil, err
	}
	req.KernelID = k.ID
	resp, err := rpc.Execute(ctx, req)
	if err != nil {
		return nil, wrapAgentErr(*k.AgentID, err)
	}
	return resp, nil
}

// Interrupt stops the in-flight execution on the session's main kernel.
func (r *Registry) Interrupt(ctx context.Context, sessionID string) error {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.ReadTimeout)
	if err != nil {
		return err
	}
	if err := rpc.Interrupt(ctx, agentrpc.InterruptRequest{KernelID: k.ID}); err != nil {
		return wrapAgentErr(*k.AgentID, err)
	}
	return nil
}

// GetCompletions asks the main kernel for code-completion candidates.
func (r *Registry) GetCompletions(ctx context.Context, sessionID string, req agentrpc.GetCompletionsRequest) (*agentrpc.GetCompletionsResponse, error) {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.ReadTimeout)
	if err != nil {
		return nil, err
	}
	req.KernelID = k.ID
	resp, err := rpc.GetCompletions(ctx, req)
	if err != nil {
		return nil, wrapAgentErr(*k.AgentID, err)
	}
	return resp, nil
}

// StartService starts an app service on the main kernel's container.
func (r *Registry) StartService(ctx context.Context, sessionID string, req agentrpc.StartServiceRequest) (*agentrpc.StartServiceResponse, error) {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.WriteTimeout)
	if err != nil {
		return nil, err
	}
	req.KernelID = k.ID
	resp, err := rpc.StartService(ctx, req)
	if err != nil {
		return nil, wrapAgentErr(*k.AgentID, err)
	}
	return resp, nil
}

// ShutdownService stops a previously started app service.
func (r *Registry) ShutdownService(ctx context.Context, sessionID string, req agentrpc.ShutdownServiceRequest) error {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.WriteTimeout)
	if err != nil {
		return err
	}
	req.KernelID = k.ID
	if err := rpc.ShutdownService(ctx, req); err != nil {
		return wrapAgentErr(*k.AgentID, err)
	}
	return nil
}

// UploadFile writes a file into the main kernel's container filesystem.
func (r *Registry) UploadFile(ctx context.Context, sessionID string, req agentrpc.UploadFileRequest) error {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.WriteTimeout)
	if err != nil {
		return err
	}
	req.KernelID = k.ID
	if err := rpc.UploadFile(ctx, req); err != nil {
		return wrapAgentErr(*k.AgentID, err)
	}
	return nil
}

// DownloadFile reads a file out of the main kernel's container filesystem.
func (r *Registry) DownloadFile(ctx context.Context, sessionID string, req agentrpc.DownloadFileRequest) (*agentrpc.DownloadFileResponse, error) {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.ReadTimeout)
	if err != nil {
		return nil, err
	}
	req.KernelID = k.ID
	resp, err := rpc.DownloadFile(ctx, req)
	if err != nil {
		return nil, wrapAgentErr(*k.AgentID, err)
	}
	return resp, nil
}

// ListFiles lists a directory inside the main kernel's container.
func (r *Registry) ListFiles(ctx context.Context, sessionID string, req agentrpc.ListFilesRequest) (*agentrpc.ListFilesResponse, error) {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.ReadTimeout)
	if err != nil {
		return nil, err
	}
	req.KernelID = k.ID
	resp, err := rpc.ListFiles(ctx, req)
	if err != nil {
		return nil, wrapAgentErr(*k.AgentID, err)
	}
	return resp, nil
}

// GetLogs fetches the main kernel's accumulated container logs.
func (r *Registry) GetLogs(ctx context.Context, sessionID string) (*agentrpc.GetLogsResponse, error) {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.ReadTimeout)
	if err != nil {
		return nil, err
	}
	resp, err := rpc.GetLogs(ctx, agentrpc.GetLogsRequest{KernelID: k.ID})
	if err != nil {
		return nil, wrapAgentErr(*k.AgentID, err)
	}
	return resp, nil
}

// CommitSession requires the main kernel RUNNING and delegates the commit
// to its agent, producing a new named image.
func (r *Registry) CommitSession(ctx context.Context, sessionID, ownerEmail, canonical string, extraLabels map[string]string) error {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.WriteTimeout)
	if err != nil {
		return err
	}
	err = rpc.CommitSession(ctx, agentrpc.CommitSessionRequest{
		KernelID:    k.ID,
		OwnerEmail:  ownerEmail,
		Canonical:   canonical,
		ExtraLabels: extraLabels,
	})
	if err != nil {
		return wrapAgentErr(*k.AgentID, err)
	}
	return nil
}

// CommitSessionToFile is commit_session's tar-file variant: same
// precondition, delegates to the agent with a filename instead of an image
// canonical.
func (r *Registry) CommitSessionToFile(ctx context.Context, sessionID, ownerEmail, filename string, extraLabels map[string]string) error {
	k, rpc, err := r.mainKernelRPC(ctx, sessionID, r.WriteTimeout)
	if err != nil {
		return err
	}
	err = rpc.CommitSessionToFile(ctx, agentrpc.CommitSessionToFileRequest{
		KernelID:    k.ID,
		OwnerEmail:  ownerEmail,
		Filename:    filename,
		ExtraLabels: extraLabels,
	})
	if err != nil {
		return wrapAgentErr(*k.AgentID, err)
	}
	return nil
}
