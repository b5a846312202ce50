// ABOUTME: Launch strategy selection and server variant detection
// ABOUTME: Prefers a start script; otherwise runs the first server jar with fixed heap flags

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoLaunchTarget is returned when the server directory has neither a
// start script nor a server jar.
var ErrNoLaunchTarget = errors.New("no start script or server jar found")

// Variant is the server distribution, detected from jar file names.
type Variant string

const (
	VariantFabric  Variant = "fabric"
	VariantForge   Variant = "forge"
	VariantPaper   Variant = "paper"
	VariantSpigot  Variant = "spigot"
	VariantVanilla Variant = "vanilla"
)

// variantOrder is the detection priority; the first match wins.
var variantOrder = []Variant{VariantFabric, VariantForge, VariantPaper, VariantSpigot}

// ClassifyJar returns the variant a jar file name belongs to.
func ClassifyJar(name string) Variant {
	lower := strings.ToLower(name)
	for _, v := range variantOrder {
		if strings.Contains(lower, string(v)) {
			return v
		}
	}
	return VariantVanilla
}

// listJars returns the directory's *.jar names sorted by name.
func listJars(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading server directory: %w", err)
	}
	var jars []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jar") {
			continue
		}
		jars = append(jars, e.Name())
	}
	sort.Strings(jars)
	return jars, nil
}

// DetectVariant classifies the directory by the first variant, in priority
// order, that any jar name contains.
func DetectVariant(dir string) (Variant, error) {
	jars, err := listJars(dir)
	if err != nil {
		return VariantVanilla, err
	}
	for _, v := range variantOrder {
		for _, jar := range jars {
			if ClassifyJar(jar) == v {
				return v, nil
			}
		}
	}
	return VariantVanilla, nil
}

// LaunchPlan is the command used to start the server.
type LaunchPlan struct {
	Path    string
	Args    []string
	Variant Variant
	// Target is the script or jar being launched.
	Target string
}

func (p LaunchPlan) String() string {
	return strings.Join(append([]string{p.Path}, p.Args...), " ")
}

// PlanLaunch picks how to start the server in cfg.Dir.
func PlanLaunch(cfg Config) (LaunchPlan, error) {
	script := filepath.Join(cfg.Dir, cfg.Script)
	if info, err := os.Stat(script); err == nil && !info.IsDir() {
		variant, err := DetectVariant(cfg.Dir)
		if err != nil {
			return LaunchPlan{}, err
		}
		return LaunchPlan{
			Path:    cfg.Shell,
			Args:    []string{cfg.Script},
			Variant: variant,
			Target:  cfg.Script,
		}, nil
	}

	jars, err := listJars(cfg.Dir)
	if err != nil {
		return LaunchPlan{}, err
	}
	for _, jar := range jars {
		if strings.Contains(jar, "forge-installer") {
			continue
		}
		return LaunchPlan{
			Path:    cfg.Java,
			Args:    []string{"-Xmx" + cfg.HeapMax, "-Xms" + cfg.HeapMin, "-jar", jar, "nogui"},
			Variant: ClassifyJar(jar),
			Target:  jar,
		}, nil
	}
	return LaunchPlan{}, fmt.Errorf("%w in %s", ErrNoLaunchTarget, cfg.Dir)
}
