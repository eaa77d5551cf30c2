package probe

import "time"

// PortStatus is the outcome of one port probe.
type PortStatus string

const (
	StatusOpen     PortStatus = "open"
	StatusClosed   PortStatus = "closed"   // connection refused
	StatusFiltered PortStatus = "filtered" // timeout or unreachable
)

// ProbeJob is one port to connect to within a scan.
type ProbeJob struct {
	Port    uint16
	Timeout time.Duration
}

// ProbeResult is produced exactly once per completed ProbeJob.
type ProbeResult struct {
	Port      uint16     `json:"port"`
	Status    PortStatus `json:"status"`
	ElapsedMs *float64   `json:"elapsedMs"` // nil unless open
}

// ScanOutcome is what the scheduler returns for one batch.
type ScanOutcome struct {
	Open           []ProbeResult
	ClosedCount    int
	Unfinished     int // jobs never started or cut short by the batch budget
	TotalElapsedMs float64
}

// OpenPort is the report form of an open port.
type OpenPort struct {
	Port uint16  `json:"port"`
	Ms   float64 `json:"ms"`
}

// ScanReport is returned by Service.Scan.
type ScanReport struct {
	Host           string     `json:"host"`
	ResolvedIP     string     `json:"resolvedIp"`
	OpenPorts      []OpenPort `json:"openPorts"`
	ClosedCount    int        `json:"closedCount"`
	TotalElapsedMs float64    `json:"totalElapsedMs"`
	Truncated      bool       `json:"truncated,omitempty"`
	Unfinished     int        `json:"unfinished,omitempty"`
}

// RTTSummary aggregates successful ping round trips.
type RTTSummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// PingReport is returned by Service.Ping.
type PingReport struct {
	Host       string      `json:"host"`
	ResolvedIP string      `json:"resolvedIp"`
	Port       uint16      `json:"port"`
	Attempts   int         `json:"attempts"`
	Received   int         `json:"received"`
	RTTs       []float64   `json:"rtts"`
	Summary    *RTTSummary `json:"summary"`
}

// BannerCapture holds the bytes read from a service after connecting.
type BannerCapture struct {
	Bytes     []byte
	ByteCount int
	ElapsedMs float64
}

// BannerReport is returned by Service.Banner.
type BannerReport struct {
	Host       string  `json:"host"`
	ResolvedIP string  `json:"resolvedIp"`
	Port       uint16  `json:"port"`
	Hint       string  `json:"hint,omitempty"`
	Banner     string  `json:"banner"`
	Bytes      int     `json:"bytes"`
	ElapsedMs  float64 `json:"elapsedMs"`
}

// CertificateInfo describes the leaf certificate presented during a handshake.
type CertificateInfo struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SubjectCN          string    `json:"subjectCN,omitempty"`
	IssuerCN           string    `json:"issuerCN,omitempty"`
	ValidFrom          time.Time `json:"validFrom"`
	ValidTo            time.Time `json:"validTo"`
	DaysRemaining      int       `json:"daysRemaining"`
	Expired            bool      `json:"expired"`
	ExpiringSoon       bool      `json:"expiringSoon"`
	Fingerprint        string    `json:"fingerprint256"`
	SerialNumber       string    `json:"serialNumber"`
	SANs               []string  `json:"san"`
	SelfSigned         bool      `json:"selfSigned"`
	SignatureAlgorithm string    `json:"signatureAlgorithm"`
	PublicKeyAlgorithm string    `json:"publicKeyAlgorithm"`
	KeySize            int       `json:"keySize,omitempty"`
	ChainLength        int       `json:"chainLength"`
}

// TLSSummary is the negotiated session plus the leaf certificate.
type TLSSummary struct {
	Protocol    string          `json:"protocol"`
	Cipher      string          `json:"cipher"`
	ALPN        string          `json:"alpn,omitempty"`
	Certificate CertificateInfo `json:"certificate"`
}

// TLSReport is returned by Service.TLS.
type TLSReport struct {
	Host       string `json:"host"`
	ResolvedIP string `json:"resolvedIp"`
	Port       uint16 `json:"port"`
	TLSSummary
	ElapsedMs float64 `json:"elapsedMs"`
}
