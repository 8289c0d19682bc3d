package agentrpc

import (
	"context"

	"github.com/backendai/manager/pkg/domain"
)

// CheckAndPullRequest asks an agent to ensure an image is present locally,
// starting a background pull task if it isn't.
type CheckAndPullRequest struct {
	Image domain.ImageRef
}

// CheckAndPullResponse carries the background task id to correlate with
// the ImagePullStarted/Finished/Failed events the agent later publishes.
type CheckAndPullResponse struct {
	TaskID string
}

func (c *Context) CheckAndPull(ctx context.Context, req CheckAndPullRequest) (*CheckAndPullResponse, error) {
	var resp CheckAndPullResponse
	if err := c.Call(ctx, "CheckAndPull", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateKernelsRequest groups everything create_kernels needs for every
// kernel this call assigns to one agent.
type CreateKernelsRequest struct {
	SessionID   string
	Kernels     []KernelSpec
	ClusterMode domain.ClusterMode
	ClusterSize int
	SSHKeypair  SSHKeypair
	SSHPortMap  map[int]int
}

// KernelSpec is one kernel's creation parameters within a CreateKernelsRequest.
type KernelSpec struct {
	KernelID        string
	Image           domain.ImageRef
	RequestedSlots  domain.ResourceSlot
	Environ         map[string]string
	VFolderMounts   []domain.VFolderMount
	ClusterRole     domain.ClusterRole
	ClusterIdx      int
	StartupCommand  string
	BootstrapScript string
}

// SSHKeypair is the freshly generated intra-cluster SSH credential handed
// to every kernel of a multi-node session.
type SSHKeypair struct {
	PublicKey  string
	PrivateKey string
}

// CreatedKernelInfo is what the agent reports back per kernel it created.
type CreatedKernelInfo struct {
	KernelID      string
	ActualSlots   domain.ResourceSlot
	ServicePorts  []domain.ServicePort
	ContainerID   string
	KernelHost    string
}

type CreateKernelsResponse struct {
	Created []CreatedKernelInfo
}

func (c *Context) CreateKernels(ctx context.Context, req CreateKernelsRequest) (*CreateKernelsResponse, error) {
	var resp CreateKernelsResponse
	if err := c.Call(ctx, "CreateKernels", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type DestroyKernelRequest struct {
	KernelID  string
	SessionID string
	Reason    string
}

func (c *Context) DestroyKernel(ctx context.Context, req DestroyKernelRequest) error {
	return c.Call(ctx, "DestroyKernel", req, &struct{}{})
}

type RestartKernelRequest struct {
	KernelID string
}

type RestartKernelResponse struct {
	ContainerID  string
	ServicePorts []domain.ServicePort
}

func (c *Context) RestartKernel(ctx context.Context, req RestartKernelRequest) (*RestartKernelResponse, error) {
	var resp RestartKernelResponse
	if err := c.Call(ctx, "RestartKernel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type ExecuteRequest struct {
	KernelID string
	Code     string
	Mode     string
}

type ExecuteResponse struct {
	Status  string
	Console []string
}

func (c *Context) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.Call(ctx, "Execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type InterruptRequest struct {
	KernelID string
}

func (c *Context) Interrupt(ctx context.Context, req InterruptRequest) error {
	return c.Call(ctx, "Interrupt", req, &struct{}{})
}

type GetCompletionsRequest struct {
	KernelID string
	Code     string
	Opts     map[string]string
}

type GetCompletionsResponse struct {
	Matches []string
}

func (c *Context) GetCompletions(ctx context.Context, req GetCompletionsRequest) (*GetCompletionsResponse, error) {
	var resp GetCompletionsResponse
	if err := c.Call(ctx, "GetCompletions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type StartServiceRequest struct {
	KernelID string
	Name     string
	Opts     map[string]string
}

type StartServiceResponse struct {
	Port int
}

func (c *Context) StartService(ctx context.Context, req StartServiceRequest) (*StartServiceResponse, error) {
	var resp StartServiceResponse
	if err := c.Call(ctx, "StartService", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type ShutdownServiceRequest struct {
	KernelID string
	Name     string
}

func (c *Context) ShutdownService(ctx context.Context, req ShutdownServiceRequest) error {
	return c.Call(ctx, "ShutdownService", req, &struct{}{})
}

type UploadFileRequest struct {
	KernelID string
	Path     string
	Data     []byte
}

func (c *Context) UploadFile(ctx context.Context, req UploadFileRequest) error {
	return c.Call(ctx, "UploadFile", req, &struct{}{})
}

type DownloadFileRequest struct {
	KernelID string
	Path     string
}

type DownloadFileResponse struct {
	Data []byte
}

func (c *Context) DownloadFile(ctx context.Context, req DownloadFileRequest) (*DownloadFileResponse, error) {
	var resp DownloadFileResponse
	if err := c.Call(ctx, "DownloadFile", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type ListFilesRequest struct {
	KernelID string
	Path     string
}

type ListFilesResponse struct {
	Entries []string
}

func (c *Context) ListFiles(ctx context.Context, req ListFilesRequest) (*ListFilesResponse, error) {
	var resp ListFilesResponse
	if err := c.Call(ctx, "ListFiles", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type GetLogsRequest struct {
	KernelID string
}

type GetLogsResponse struct {
	Logs string
}

func (c *Context) GetLogs(ctx context.Context, req GetLogsRequest) (*GetLogsResponse, error) {
	var resp GetLogsResponse
	if err := c.Call(ctx, "GetLogs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type CommitSessionRequest struct {
	KernelID    string
	OwnerEmail  string
	Canonical   string
	ExtraLabels map[string]string
}

func (c *Context) CommitSession(ctx context.Context, req CommitSessionRequest) error {
	return c.Call(ctx, "CommitSession", req, &struct{}{})
}

type CommitSessionToFileRequest struct {
	KernelID    string
	OwnerEmail  string
	Filename    string
	ExtraLabels map[string]string
}

func (c *Context) CommitSessionToFile(ctx context.Context, req CommitSessionToFileRequest) error {
	return c.Call(ctx, "CommitSessionToFile", req, &struct{}{})
}

type PushImageRequest struct {
	Image    domain.ImageRef
	Registry string
}

func (c *Context) PushImage(ctx context.Context, req PushImageRequest) error {
	return c.Call(ctx, "PushImage", req, &struct{}{})
}

type PurgeImagesRequest struct {
	Canonicals []string
}

// PurgeImageResult reports, per image, whether the purge succeeded.
type PurgeImageResult struct {
	Image string
	Error string
}

type PurgeImagesResponse struct {
	Results []PurgeImageResult
}

func (c *Context) PurgeImages(ctx context.Context, req PurgeImagesRequest) (*PurgeImagesResponse, error) {
	var resp PurgeImagesResponse
	if err := c.Call(ctx, "PurgeImages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PluginHWInfo is one hardware-plugin's self-reported status.
type PluginHWInfo struct {
	Status   string
	Message  string
	Metadata map[string]string
}

type GatherHWInfoResponse struct {
	Plugins map[string]PluginHWInfo
}

func (c *Context) GatherHWInfo(ctx context.Context) (*GatherHWInfoResponse, error) {
	var resp GatherHWInfoResponse
	if err := c.Call(ctx, "GatherHWInfo", &struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GPUAllocSpec describes one device's current allocation.
type GPUAllocSpec struct {
	DeviceID string
	Slots    domain.ResourceSlot
	KernelID string
}

type ScanGPUAllocMapResponse struct {
	Devices map[string]GPUAllocSpec
}

func (c *Context) ScanGPUAllocMap(ctx context.Context) (*ScanGPUAllocMapResponse, error) {
	var resp ScanGPUAllocMapResponse
	if err := c.Call(ctx, "ScanGPUAllocMap", &struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type CreateLocalNetworkRequest struct {
	Name string
}

func (c *Context) CreateLocalNetwork(ctx context.Context, req CreateLocalNetworkRequest) error {
	return c.Call(ctx, "CreateLocalNetwork", req, &struct{}{})
}

type DestroyLocalNetworkRequest struct {
	Name string
}

func (c *Context) DestroyLocalNetwork(ctx context.Context, req DestroyLocalNetworkRequest) error {
	return c.Call(ctx, "DestroyLocalNetwork", req, &struct{}{})
}

// KernelRef identifies one kernel's (id, session) pair for a registry sync.
type KernelRef struct {
	KernelID  string
	SessionID string
}

type SyncKernelRegistryRequest struct {
	Kernels []KernelRef
}

func (c *Context) SyncKernelRegistry(ctx context.Context, req SyncKernelRegistryRequest) error {
	return c.Call(ctx, "SyncKernelRegistry", req, &struct{}{})
}
