package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/tmineno/pipeit/internal/registry"
)

// CompilerVersion is embedded in every Provenance; it must be a valid
// semver string so external tooling can compare builds.
const CompilerVersion = "v0.1.0"

// Provenance identifies the exact source text and actor registry a build
// was produced from, plus the compiler version and a per-build id.
type Provenance struct {
	SourceHash          [32]byte
	RegistryFingerprint [32]byte
	CompilerVersion     string
	BuildID             string
}

// ComputeProvenance hashes source and the registry's canonical JSON
// rendering, and stamps the result with a fresh build id. Source is
// hashed as given: for a compilation driven from a serialized AST rather
// than raw .pdl text (the lexer/parser is an external collaborator; see
// internal/astpdl's package doc), callers pass whatever byte-stable text
// they want provenance to bind to, typically the AST's own canonical
// JSON encoding.
func ComputeProvenance(source string, reg *registry.Registry) (Provenance, error) {
	if !semver.IsValid(CompilerVersion) {
		return Provenance{}, fmt.Errorf("pipeline: compiler version %q is not valid semver", CompilerVersion)
	}
	canonical, err := reg.CanonicalJSON()
	if err != nil {
		return Provenance{}, fmt.Errorf("computing registry fingerprint: %w", err)
	}
	return Provenance{
		SourceHash:          sha256.Sum256([]byte(source)),
		RegistryFingerprint: sha256.Sum256([]byte(canonical)),
		CompilerVersion:     CompilerVersion,
		BuildID:             uuid.NewString(),
	}, nil
}

// SourceHashHex returns the source hash as lowercase hex.
func (p Provenance) SourceHashHex() string { return hex.EncodeToString(p.SourceHash[:]) }

// RegistryFingerprintHex returns the registry fingerprint as lowercase hex.
func (p Provenance) RegistryFingerprintHex() string {
	return hex.EncodeToString(p.RegistryFingerprint[:])
}

// ToJSON renders the provenance as the compact JSON object embedded in
// generated source and --emit build-info output.
func (p Provenance) ToJSON() (string, error) {
	doc := struct {
		SourceHash          string `json:"source_hash"`
		RegistryFingerprint string `json:"registry_fingerprint"`
		CompilerVersion     string `json:"compiler_version"`
		BuildID             string `json:"build_id"`
	}{p.SourceHashHex(), p.RegistryFingerprintHex(), p.CompilerVersion, p.BuildID}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
