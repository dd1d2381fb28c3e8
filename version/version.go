package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version string = SLSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// SLSemVer is the current version of stakelight.
	// It's the Semantic Version of the software.
	SLSemVer = "0.3.0"
)

// Protocol is used for implementation agnostic versioning.
type Protocol uint64

// Uint64 returns the Protocol version as a uint64.
func (p Protocol) Uint64() uint64 {
	return uint64(p)
}

var (
	// AttestationProtocol versions the signed attestation encoding and its
	// wire form.
	AttestationProtocol Protocol = 1

	// RegistryProtocol versions the storage layout light clients read the
	// provider list from.
	RegistryProtocol Protocol = 1
)

// Info is what the version command and the /status endpoints report.
type Info struct {
	Software    string   `json:"software"`
	Attestation Protocol `json:"attestation_protocol"`
	Registry    Protocol `json:"registry_protocol"`
}

// Current returns the Info of this build.
func Current() Info {
	return Info{
		Software:    Version,
		Attestation: AttestationProtocol,
		Registry:    RegistryProtocol,
	}
}
