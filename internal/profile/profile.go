// Package profile loads the single local user profile that personalises the
// assistant's system prompt.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var ErrInvalidProfile = errors.New("invalid profile")

// Profile describes the person the assistant is talking to.
type Profile struct {
	Name       string   `json:"name" yaml:"name"`
	Age        int      `json:"age" yaml:"age"`
	Profession string   `json:"profession" yaml:"profession"`
	Interests  []string `json:"interests" yaml:"interests"`
	Memory     []any    `json:"memory" yaml:"memory"`
}

// document is the on-disk shape: the profile nested under my_profile.
type document struct {
	MyProfile *Profile `json:"my_profile" yaml:"my_profile"`
}

// Default is synthesised when no profile document exists yet.
func Default() Profile {
	return Profile{
		Name:       "User",
		Age:        20,
		Profession: "Not set",
		Interests:  []string{"Not set"},
		Memory:     []any{},
	}
}

// Validate checks the required fields.
func (p Profile) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if p.Age < 0 {
		problems = append(problems, "age must be >= 0")
	}
	if p.Interests == nil {
		problems = append(problems, "interests is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(problems, "; "))
	}
	return nil
}

// Load reads the profile at path. When the file does not exist the default
// profile is written there and returned; a failed write-back is logged but
// does not prevent the default from being used.
func Load(path string, logger *slog.Logger) (Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		p := Default()
		if werr := Save(path, p); werr != nil {
			logger.Warn("profile write-back failed", "path", path, "err", werr)
		} else {
			logger.Info("profile not found, wrote default", "path", path)
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}

	p, err := Parse(data, isYAML(path))
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// presence records which required scalar fields a document actually set;
// a zero age or empty profession is valid, an absent one is not.
type presence struct {
	Age        *int    `json:"age" yaml:"age"`
	Profession *string `json:"profession" yaml:"profession"`
}

type presenceDocument struct {
	MyProfile *presence `json:"my_profile" yaml:"my_profile"`
}

// Parse decodes a profile document. JSON input may carry comments and
// trailing commas. Both the {"my_profile": {...}} wrapper and a bare profile
// object are accepted.
func Parse(data []byte, asYAML bool) (Profile, error) {
	decode := func(v any) error {
		if asYAML {
			return yaml.Unmarshal(data, v)
		}
		return json.Unmarshal(jsonc.ToJSON(data), v)
	}

	var (
		doc  document
		pdoc presenceDocument
		p    Profile
		pres presence
	)
	if err := decode(&doc); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := decode(&pdoc); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if doc.MyProfile != nil {
		p = *doc.MyProfile
		if pdoc.MyProfile != nil {
			pres = *pdoc.MyProfile
		}
	} else {
		if err := decode(&p); err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		if err := decode(&pres); err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
	}
	if p.Memory == nil {
		p.Memory = []any{}
	}

	var missing []string
	if pres.Age == nil {
		missing = append(missing, "age is required")
	}
	if pres.Profession == nil {
		missing = append(missing, "profession is required")
	}
	if err := p.Validate(); err != nil {
		if len(missing) == 0 {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("%w; %s", err, strings.Join(missing, "; "))
	}
	if len(missing) > 0 {
		return Profile{}, fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(missing, "; "))
	}
	return p, nil
}

// Save writes p wrapped in the my_profile document, creating parent
// directories as needed.
func Save(path string, p Profile) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profile directory: %w", err)
		}
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(document{MyProfile: &p})
	} else {
		data, err = json.MarshalIndent(document{MyProfile: &p}, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// InterestsLine joins interests the way the system prompt shows them.
func (p Profile) InterestsLine() string {
	return strings.Join(p.Interests, ", ")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
