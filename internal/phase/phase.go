// Package phase implements PhaseEngine: the ordered sequence of build
// phases a recipe goes through from unpacked source to a staged image
// ready for XpakCodec packaging, plus the build-system detection and
// default phase bodies recipes can override.
//
// Grounded on the reference phase/native-phase/build-system/build-helper
// semantics, generalized from a bash-free native executor, and on a
// process-invocation and go-shutil copy idiom.
package phase

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/termie/go-shutil"

	"github.com/gentoo-go/emerge/internal/errkind"
)

// Phase identifies one step of a build. Names mirror the Rust
// original's pkg_*/src_* function names rather than the internal
// enum names, since recipe override bodies are named the same way.
type Phase string

const (
	Setup     Phase = "pkg_setup"
	Unpack    Phase = "src_unpack"
	Prepare   Phase = "src_prepare"
	Configure Phase = "src_configure"
	Compile   Phase = "src_compile"
	Test      Phase = "src_test"
	Install   Phase = "src_install"
	PreInst   Phase = "pkg_preinst"
	PostInst  Phase = "pkg_postinst"
	PreRm     Phase = "pkg_prerm"
	PostRm    Phase = "pkg_postrm"
)

// Sequence is the order a normal merge runs phases in. Test is run only
// when the caller opts in (FEATURES=test equivalent); PhaseEngine leaves
// that decision to the caller rather than baking it into Sequence.
var Sequence = []Phase{Setup, Unpack, Prepare, Configure, Compile, Test, Install}

// BuildSystem is the detected native build tooling for a source tree.
type BuildSystem string

const (
	CMake     BuildSystem = "cmake"
	Meson     BuildSystem = "meson"
	Autotools BuildSystem = "autotools"
	Makefile  BuildSystem = "makefile"
	Cargo     BuildSystem = "cargo"
	Custom    BuildSystem = "custom"
)

// eclassBuildSystem maps inherited eclass names to the build system they
// declare, per the reference build-system INHERIT table.
var eclassBuildSystem = map[string]BuildSystem{
	"cmake":            CMake,
	"cmake-utils":      CMake,
	"meson":            Meson,
	"autotools":        Autotools,
	"autotools-utils":  Autotools,
	"cargo":            Cargo,
}

// DetectBuildSystem picks the build system a recipe uses: a declared
// inherit wins outright, otherwise the source tree's own marker files
// are checked in the same order the Rust original does (cmake, meson,
// autotools, cargo, makefile, else Custom).
func DetectBuildSystem(inherits []string, sourceDir string) BuildSystem {
	for _, eclass := range inherits {
		if bs, ok := eclassBuildSystem[eclass]; ok {
			return bs
		}
	}
	switch {
	case exists(filepath.Join(sourceDir, "CMakeLists.txt")):
		return CMake
	case exists(filepath.Join(sourceDir, "meson.build")):
		return Meson
	case exists(filepath.Join(sourceDir, "configure")),
		exists(filepath.Join(sourceDir, "configure.ac")),
		exists(filepath.Join(sourceDir, "configure.in")):
		return Autotools
	case exists(filepath.Join(sourceDir, "Cargo.toml")):
		return Cargo
	case exists(filepath.Join(sourceDir, "Makefile")),
		exists(filepath.Join(sourceDir, "makefile")):
		return Makefile
	default:
		return Custom
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DefaultConfigureArgs returns the standard flags default_configure
// passes for build systems that have a configure step.
func (b BuildSystem) DefaultConfigureArgs(libdir string) []string {
	if libdir == "" {
		libdir = "lib"
	}
	switch b {
	case CMake:
		return []string{
			"-DCMAKE_INSTALL_PREFIX=/usr",
			"-DCMAKE_BUILD_TYPE=Release",
			"-DCMAKE_INSTALL_LIBDIR=" + libdir,
		}
	case Meson:
		return []string{
			"--prefix=/usr", "--sysconfdir=/etc", "--localstatedir=/var",
			"--libdir=" + libdir, "-Dbuildtype=plain",
		}
	case Autotools:
		return []string{"--prefix=/usr", "--sysconfdir=/etc", "--localstatedir=/var"}
	default:
		return nil
	}
}

// ConfigureCommand returns the argv for default_configure, or ok=false
// when the build system has no native configure step (Cargo, Makefile,
// Custom build their own way or skip straight to compile).
func (b BuildSystem) ConfigureCommand(sourceDir string, args []string) (argv []string, ok bool) {
	switch b {
	case CMake:
		return append([]string{"cmake", "-B", "build", "-S", "."}, args...), true
	case Meson:
		return append([]string{"meson", "setup", "build"}, args...), true
	case Autotools:
		return append([]string{filepath.Join(sourceDir, "configure")}, args...), true
	default:
		return nil, false
	}
}

// CompileCommand returns the argv for default_compile.
func (b BuildSystem) CompileCommand() []string {
	switch b {
	case CMake:
		return []string{"cmake", "--build", "."}
	case Meson:
		return []string{"meson", "compile", "-C", "build"}
	case Cargo:
		return []string{"cargo", "build", "--release"}
	default:
		return []string{"make"}
	}
}

// InstallCommand returns the argv for default_install, given the
// staging directory builds should place their files under.
func (b BuildSystem) InstallCommand(destDir string) []string {
	switch b {
	case CMake:
		return []string{"cmake", "--install", "."}
	case Meson:
		return []string{"meson", "install", "-C", "build"}
	case Cargo:
		return []string{"cargo", "install", "--root", destDir}
	default:
		return []string{"make", "install", "DESTDIR=" + destDir}
	}
}

// UseOption translates an enabled/disabled USE flag into the build
// system's native option spelling, or "" when the build system has no
// flag convention (Cargo, Makefile, Custom take recipe-specific args).
func (b BuildSystem) UseOption(flag, optionName string, enabled bool) string {
	opt := optionName
	if opt == "" {
		opt = flag
	}
	switch b {
	case CMake:
		v := "OFF"
		if enabled {
			v = "ON"
		}
		return fmt.Sprintf("-DWITH_%s=%s", strings.ToUpper(opt), v)
	case Meson:
		v := "disabled"
		if enabled {
			v = "enabled"
		}
		return fmt.Sprintf("-D%s=%s", opt, v)
	case Autotools:
		if enabled {
			return "--enable-" + opt
		}
		return "--disable-" + opt
	default:
		return ""
	}
}

// Environment carries the variables and directories a phase body runs
// with: PID decomposition, the unpack/staging directories, derived
// parallelism, and the effective USE set, mirroring
// the reference EbuildEnvironment.
type Environment struct {
	Category, Name, Version string
	EAPI                    string
	WorkDir                 string // unpack destination (the reference S, one level up)
	SourceDir               string // S: the actual extracted source tree
	DestDir                 string // D: staging/install image root
	DistDir                 string // download cache
	LibDir                  string // usually "lib" or "lib64"
	MakeOpts                []string
	UseFlags                map[string]bool
	Config                  map[string]string // flattened ConfigStack variables
	Inherits                []string
}

// Jobs returns the parallelism MAKEOPTS implies, falling back to the
// host's CPU count exactly as default_compile does when MAKEOPTS is
// unset.
func (e *Environment) Jobs() int {
	for _, opt := range e.MakeOpts {
		if strings.HasPrefix(opt, "-j") {
			n := 0
			fmt.Sscanf(opt[2:], "%d", &n)
			if n > 0 {
				return n
			}
		}
	}
	return runtime.NumCPU()
}

// ShellHost executes a recipe's override phase body when it is not
// expressible as a plain command list PhaseEngine can run directly.
// No implementation ships: recipes are native-builder-system driven,
// and a real shell (bash, POSIX sh, or otherwise) is out of scope for
// a from-scratch resolver. Configuring one is left to the embedder.
type ShellHost interface {
	Run(env *Environment, script string) error
}

// Override is a recipe-supplied phase body: either a plain argv to run
// in the source directory, or a shell script handed to a configured
// ShellHost.
type Override struct {
	Argv   []string
	Script string
}

// Executor runs phases for one package build, dispatching to recipe
// overrides before falling back to the build-system default.
type Executor struct {
	Env         *Environment
	BuildSystem BuildSystem
	Overrides   map[Phase]Override
	ShellHost   ShellHost
	Copy        func(src, dst string) error // not set by NewExecutor; the default phases do not call it
	Runner      func(argv []string, dir string, env []string) error
}

// NewExecutor builds an Executor with build-system detection already
// applied from env.Inherits and env.SourceDir.
func NewExecutor(env *Environment, overrides map[Phase]Override, host ShellHost) *Executor {
	return &Executor{
		Env:         env,
		BuildSystem: DetectBuildSystem(env.Inherits, env.SourceDir),
		Overrides:   overrides,
		ShellHost:   host,
		Runner:      runCommand,
	}
}

// Run executes a single phase: a recipe override if one is registered,
// otherwise the default_<phase> behavior for the detected build system.
func (x *Executor) Run(p Phase) error {
	if ov, ok := x.Overrides[p]; ok {
		return x.runOverride(p, ov)
	}
	var err error
	switch p {
	case Setup, PreInst, PostInst, PreRm, PostRm:
		err = nil // no native default; these are no-ops unless overridden
	case Unpack:
		err = x.defaultUnpack()
	case Prepare:
		err = nil // default_prepare is a no-op absent patches, handled by recipe override
	case Configure:
		err = x.defaultConfigure()
	case Compile:
		err = x.defaultCompile()
	case Test:
		err = nil // no default test target; skipped unless overridden
	case Install:
		err = x.defaultInstall()
	default:
		err = errors.Errorf("unknown phase %q", p)
	}
	if err != nil {
		return &errkind.BuildPhaseFailed{PID: x.pid(), Phase: string(p), Cause: err}
	}
	return nil
}

func (x *Executor) pid() string {
	return fmt.Sprintf("%s/%s-%s", x.Env.Category, x.Env.Name, x.Env.Version)
}

func (x *Executor) runOverride(p Phase, ov Override) error {
	var err error
	switch {
	case len(ov.Argv) > 0:
		err = x.run(ov.Argv, x.Env.SourceDir)
	case ov.Script != "":
		if x.ShellHost == nil {
			err = errors.Errorf("phase %s needs a script body but no ShellHost is configured", p)
		} else {
			err = x.ShellHost.Run(x.Env, ov.Script)
		}
	}
	if err != nil {
		return &errkind.BuildPhaseFailed{PID: x.pid(), Phase: string(p), Cause: err}
	}
	return nil
}

// defaultUnpack creates WorkDir. It does not fetch, extract or copy
// any distfile, and it does not create SourceDir.
func (x *Executor) defaultUnpack() error {
	if err := os.MkdirAll(x.Env.WorkDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating work directory %s", x.Env.WorkDir)
	}
	return nil
}

func (x *Executor) defaultConfigure() error {
	argv, ok := x.BuildSystem.ConfigureCommand(x.Env.SourceDir, x.BuildSystem.DefaultConfigureArgs(x.Env.LibDir))
	if !ok {
		return nil
	}
	return x.run(argv, x.Env.SourceDir)
}

func (x *Executor) defaultCompile() error {
	argv := x.BuildSystem.CompileCommand()
	if x.BuildSystem == Autotools || x.BuildSystem == Makefile || x.BuildSystem == Custom {
		argv = append(argv, makeOptsOrJobs(x.Env)...)
	}
	return x.run(argv, x.Env.SourceDir)
}

func (x *Executor) defaultInstall() error {
	if err := os.MkdirAll(x.Env.DestDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating staging directory %s", x.Env.DestDir)
	}
	return x.run(x.BuildSystem.InstallCommand(x.Env.DestDir), x.Env.SourceDir)
}

func makeOptsOrJobs(env *Environment) []string {
	if len(env.MakeOpts) > 0 {
		return env.MakeOpts
	}
	return []string{fmt.Sprintf("-j%d", env.Jobs())}
}

func (x *Executor) run(argv []string, dir string) error {
	if len(argv) == 0 {
		return nil
	}
	if x.Runner != nil {
		return x.Runner(argv, dir, envSlice(x.Env))
	}
	return runCommand(argv, dir, envSlice(x.Env))
}

func runCommand(argv []string, dir string, env []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func envSlice(e *Environment) []string {
	out := os.Environ()
	for k, v := range e.Config {
		out = append(out, k+"="+v)
	}
	out = append(out,
		"CATEGORY="+e.Category,
		"PN="+e.Name,
		"PV="+e.Version,
		"S="+e.SourceDir,
		"D="+e.DestDir,
		"WORKDIR="+e.WorkDir,
	)
	if len(e.MakeOpts) > 0 {
		out = append(out, "MAKEOPTS="+strings.Join(e.MakeOpts, " "))
	}
	return out
}

// StageTree copies a directory tree into the staging image, used by
// recipes whose src_install override just needs to place already-built
// files under D without invoking a package manager's install target.
// Wraps go-shutil's recursive copy, matching vcs_source.go's use of
// shutil.CopyTree for whole-tree staging.
func StageTree(src, dst string) error {
	cfg := &shutil.CopyTreeOptions{
		Symlinks:               true,
		IgnoreDanglingSymlinks: false,
		CopyFunction:           shutil.Copy,
	}
	return shutil.CopyTree(src, dst, cfg)
}
