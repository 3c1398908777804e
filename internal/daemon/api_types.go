package daemon

type V1ErrorResponse struct {
	Error string `json:"error"`
}

type V1Topology struct {
	Sockets int `json:"sockets"`
	Cores   int `json:"cores"`
	Threads int `json:"threads"`
}

// V1Basic echoes the basic step. The init password never leaves the daemon;
// only its presence is reported.
type V1Basic struct {
	Name              string     `json:"name"`
	OperatingSystemID string     `json:"operating_system_id"`
	MemoryMiB         int64      `json:"memory_mib"`
	CPUs              int        `json:"cpus"`
	Topology          V1Topology `json:"topology"`
	OptimizedFor      string     `json:"optimized_for"`
	StartOnCreation   bool       `json:"start_on_creation"`
	TPMEnabled        bool       `json:"tpm_enabled"`
	InitEnabled       bool       `json:"init_enabled"`
	InitHostname      string     `json:"init_hostname,omitempty"`
	InitSSHKeys       string     `json:"init_ssh_keys,omitempty"`
	InitPasswordSet   bool       `json:"init_password_set"`
	ProvisionSource   string     `json:"provision_source"`
	ClusterID         string     `json:"cluster_id"`
	TemplateID        string     `json:"template_id"`
	DataCenterID      string     `json:"data_center_id"`
}

type V1BasicPatch struct {
	Name              *string     `json:"name,omitempty"`
	OperatingSystemID *string     `json:"operating_system_id,omitempty"`
	MemoryMiB         *int64      `json:"memory_mib,omitempty"`
	CPUs              *int        `json:"cpus,omitempty"`
	Topology          *V1Topology `json:"topology,omitempty"`
	OptimizedFor      *string     `json:"optimized_for,omitempty"`
	StartOnCreation   *bool       `json:"start_on_creation,omitempty"`
	TPMEnabled        *bool       `json:"tpm_enabled,omitempty"`
	InitEnabled       *bool       `json:"init_enabled,omitempty"`
	InitHostname      *string     `json:"init_hostname,omitempty"`
	InitSSHKeys       *string     `json:"init_ssh_keys,omitempty"`
	InitPassword      *string     `json:"init_password,omitempty"`
	ProvisionSource   *string     `json:"provision_source,omitempty"`
	ClusterID         *string     `json:"cluster_id,omitempty"`
	TemplateID        *string     `json:"template_id,omitempty"`
	DataCenterID      *string     `json:"data_center_id,omitempty"`
}

type V1NIC struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	VNICProfileID string `json:"vnic_profile_id"`
	DeviceType    string `json:"device_type,omitempty"`
	FromTemplate  bool   `json:"from_template"`
}

type V1NICCreate struct {
	Name          string `json:"name"`
	VNICProfileID string `json:"vnic_profile_id"`
	DeviceType    string `json:"device_type,omitempty"`
}

type V1NICUpdate struct {
	ID            string  `json:"id"`
	Name          *string `json:"name,omitempty"`
	VNICProfileID *string `json:"vnic_profile_id,omitempty"`
	DeviceType    *string `json:"device_type,omitempty"`
}

type V1NICChange struct {
	Create *V1NICCreate `json:"create,omitempty"`
	Update *V1NICUpdate `json:"update,omitempty"`
	Remove string       `json:"remove,omitempty"`
}

type V1Disk struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	DiskID              string  `json:"disk_id,omitempty"`
	StorageDomainID     string  `json:"storage_domain_id"`
	CanUseStorageDomain bool    `json:"can_use_storage_domain"`
	Bootable            bool    `json:"bootable"`
	Type                string  `json:"type"`
	SizeBytes           int64   `json:"size_bytes"`
	FromTemplate        bool    `json:"from_template"`
	UnderConstruction   *V1Disk `json:"under_construction,omitempty"`
}

type V1DiskCreate struct {
	Name            string `json:"name"`
	StorageDomainID string `json:"storage_domain_id"`
	Bootable        bool   `json:"bootable,omitempty"`
	Type            string `json:"type,omitempty"`
	SizeBytes       int64  `json:"size_bytes"`
}

type V1DiskUpdate struct {
	ID              string  `json:"id"`
	Name            *string `json:"name,omitempty"`
	StorageDomainID *string `json:"storage_domain_id,omitempty"`
	Bootable        *bool   `json:"bootable,omitempty"`
	Type            *string `json:"type,omitempty"`
	SizeBytes       *int64  `json:"size_bytes,omitempty"`
}

type V1DiskChange struct {
	Create *V1DiskCreate `json:"create,omitempty"`
	Update *V1DiskUpdate `json:"update,omitempty"`
	Remove string        `json:"remove,omitempty"`
}

type V1StepGate struct {
	Valid        bool `json:"valid"`
	PreventEnter bool `json:"prevent_enter"`
}

type V1Navigation struct {
	Basic   V1StepGate `json:"basic"`
	Network V1StepGate `json:"network"`
	Storage V1StepGate `json:"storage"`
}

type V1Session struct {
	ID             string       `json:"id"`
	Basic          V1Basic      `json:"basic"`
	NICs           []V1NIC      `json:"nics"`
	Disks          []V1Disk     `json:"disks"`
	NetworkUpdated int          `json:"network_updated"`
	StorageUpdated int          `json:"storage_updated"`
	Nav            V1Navigation `json:"nav"`
	Dirty          bool         `json:"dirty"`
	CorrelationID  string       `json:"correlation_id,omitempty"`
	OpenedAt       string       `json:"opened_at"`
}

type V1SessionsResponse struct {
	Sessions []V1Session `json:"sessions"`
}

type V1SubmitResponse struct {
	Token string `json:"token"`
}

type V1Progress struct {
	Token      string   `json:"token,omitempty"`
	Status     string   `json:"status"`
	InProgress bool     `json:"in_progress"`
	Result     string   `json:"result,omitempty"`
	Messages   []string `json:"messages,omitempty"`
}

type V1Cluster struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DataCenterID string `json:"data_center_id"`
	Architecture string `json:"architecture,omitempty"`
}

type V1Template struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	ClusterID         string     `json:"cluster_id,omitempty"`
	Class             string     `json:"class"`
	OperatingSystemID string     `json:"operating_system_id,omitempty"`
	MemoryBytes       int64      `json:"memory_bytes"`
	CPUs              int        `json:"cpus"`
	Topology          V1Topology `json:"topology"`
	NICs              int        `json:"nics"`
	Disks             int        `json:"disks"`
}

type V1OperatingSystem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type V1StorageDomain struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type,omitempty"`
	DataCenterIDs []string `json:"data_center_ids"`
}

type V1CatalogResponse struct {
	Clusters         []V1Cluster         `json:"clusters"`
	Templates        []V1Template        `json:"templates"`
	OperatingSystems []V1OperatingSystem `json:"operating_systems"`
	StorageDomains   []V1StorageDomain   `json:"storage_domains"`
}

type V1Event struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"ts"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message,omitempty"`
}

type V1EventsResponse struct {
	Events []V1Event `json:"events"`
}

type V1Failure struct {
	Token     string `json:"token"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type V1Submission struct {
	Token       string `json:"token"`
	SessionID   string `json:"session_id"`
	VMName      string `json:"vm_name"`
	Status      string `json:"status"`
	VMID        string `json:"vm_id,omitempty"`
	ClusterID   string `json:"cluster_id,omitempty"`
	TemplateID  string `json:"template_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type V1SubmissionsResponse struct {
	Submissions []V1Submission `json:"submissions"`
}

type V1SubmissionDetail struct {
	Submission V1Submission `json:"submission"`
	Failures   []V1Failure  `json:"failures,omitempty"`
	Events     []V1Event    `json:"events,omitempty"`
}

type V1StatusMetrics struct {
	Enabled bool `json:"enabled"`
}

type V1StatusResponse struct {
	Version        string          `json:"version"`
	Backend        string          `json:"backend"`
	OpenSessions   int             `json:"open_sessions"`
	Submissions    map[string]int  `json:"submissions"`
	Metrics        V1StatusMetrics `json:"metrics"`
	RecentEvents   []V1Event       `json:"recent_events"`
	RecentFailures []V1Failure     `json:"recent_failures"`
}
