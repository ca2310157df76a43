package main

import (
	"flag"
	"strings"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/env"
	"github.com/sirupsen/logrus"
)

var (
	verbose      = flag.Bool("v", false, "log debug messages")
	logFile      = flag.String("log-file", "", "if non-empty, path of a file to which all messages (including debug messages) are appended")
	sdistsRepo   = flag.String("sdists-repo", env.DefaultSdistsRepo, "directory of downloaded source archives")
	wheelsRepo   = flag.String("wheels-repo", env.DefaultWheelsRepo, "directory of built and pre-built wheels, one subdirectory per variant")
	workDir      = flag.String("work-dir", env.DefaultWorkDir, "directory of unpacked sources and build environments")
	patchesDir   = flag.String("patches-dir", env.DefaultPatchesDir, "directory of per-package patches")
	envsDir      = flag.String("envs-dir", env.DefaultEnvsDir, "directory of per-variant build environment files")
	settingsFile = flag.String("settings-file", env.DefaultSettingsFile, "YAML settings file (may be absent)")
	constraints  = flag.String("constraints", "", "if non-empty, path of a constraints file limiting the versions of packages")
	indexURL     = flag.String("index-url", env.DefaultIndexURL, "remote package index to download sources and pre-built wheels from")
	githubAPI    = flag.String("github-api", "", "if non-empty, GitHub API URL (e.g. of GitHub Enterprise) for packages resolved from GitHub tags")
	wheelServer  = flag.String("wheel-server-url", "", "if non-empty, index URL of an external wheel server to use instead of the built-in one")
	python       = flag.String("python", "python3", "Python interpreter to create build environments with")
	pyVersion    = flag.String("python-version", "", "Python version to resolve for (default: the version of -python)")
	cleanup      = flag.Bool("cleanup", true, "remove build environments after building")
	netIsolation = flag.Bool("network-isolation", false, "run build backends without network access (requires unshare)")
	variant      = flag.String("variant", string(whey.DefaultVariant), "build variant, e.g. cpu or gpu")
	tracefile    = flag.String("tracefile", "", "if non-empty, path to store a Chrome trace of the build stages at")
	addrFD       = flag.Int("addrfd", -1, "for testing: file descriptor to write the listening address of the artifact server to")
)

// logger is created in main, once the flags are parsed.
var logger logrus.FieldLogger = logrus.StandardLogger()

func dirs() (env.Dirs, error) {
	return env.Dirs{
		SdistsRepo: *sdistsRepo,
		WheelsRepo: *wheelsRepo,
		WorkDir:    *workDir,
		Variant:    whey.Variant(*variant),
	}.Abs()
}

// indexURLs splits -index-url, which may list several indexes separated by
// commas.
func indexURLs() []string {
	var urls []string
	for _, u := range strings.Split(*indexURL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
