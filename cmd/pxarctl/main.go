/*Command pxarctl is the CLI entry point wiring package pxarapi, package
config's file loader, and package statushttp together, in the shape of
cmd/multiserver/main.go: an argv[1] subcommand dispatch over a small set
of named actions, a YAML config file loaded through koanf, and a version
string injectable via ldflags.
*/
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	yml "github.com/go-yaml/yaml"
	"github.com/theckman/yacspin"

	"github.com/psi46/pxarcore/config"
	"github.com/psi46/pxarcore/dut"
	"github.com/psi46/pxarcore/hal/mock"
	"github.com/psi46/pxarcore/pxarapi"
	"github.com/psi46/pxarcore/statushttp"
	"github.com/psi46/pxarcore/sweep"
)

// Version is the version number, typically injected via ldflags with git build.
var Version = "dev"

// ConfigFileName is the default DUT bring-up file pxarctl looks for.
var ConfigFileName = "pxar.yml"

// Addr is the listen address for the `run` subcommand's status server.
var Addr = ":8080"

func root() {
	str := `pxarctl drives a pixel-detector test core against a DUT bring-up file.

Usage:
	pxarctl <command>

Commands:
	run         start the status HTTP server against the configured DUT
	dumpconfig  print the loaded bring-up file as YAML
	sweep       run a bare efficiency sweep and print hit counts
	version`
	fmt.Println(str)
}

func loadSpec() config.DutSpec {
	spec, err := config.LoadFile(ConfigFileName)
	if err != nil {
		log.Printf("warning: could not load %s (%v), using empty spec", ConfigFileName, err)
		return config.DutSpec{}
	}
	return spec
}

func dumpconfig() {
	spec := loadSpec()
	if err := yml.NewEncoder(os.Stdout).Encode(spec); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pxarctl version %v\n", Version)
}

// newSpinner builds a yacspin.Spinner for a single long(ish)-running CLI
// step, matching the dot/braille CharSets the library ships for a plain
// terminal progress indicator.
func newSpinner(message string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[9],
		Suffix:            " " + message,
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// buildAPI wires a pxarapi.API against the in-memory mock HAL, the
// default for every subcommand until a real hal/dtbusb.Link is plumbed
// through a --usb flag.
func buildAPI(spec config.DutSpec) (*pxarapi.API, error) {
	d := dut.New()
	device := mock.New(d, 100000)
	a := pxarapi.New(d, device, device, device.Ops(), 6, 100000)

	spinner := newSpinner("bringing up DUT")
	spinner.Start()
	if err := a.InitDUT(spec); err != nil {
		spinner.StopFail()
		return nil, err
	}
	if err := a.Program(); err != nil {
		spinner.StopFail()
		return nil, err
	}
	spinner.Stop()
	return a, nil
}

func run() {
	spec := loadSpec()
	a, err := buildAPI(spec)
	if err != nil {
		log.Fatal(err)
	}
	mux := statushttp.NewRouter(a)
	log.Println("now listening for requests at", Addr)
	log.Fatal(http.ListenAndServe(Addr, mux))
}

func runSweep() {
	spec := loadSpec()
	a, err := buildAPI(spec)
	if err != nil {
		log.Fatal(err)
	}

	spinner := newSpinner("running efficiency sweep")
	spinner.Start()
	pixels, err := a.GetEfficiencyMap(10, sweep.Flags(0))
	if err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()

	for _, p := range pixels {
		fmt.Printf("roc=%d col=%d row=%d hits=%d\n", p.RocID, p.Column, p.Row, p.Value)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "dumpconfig":
		dumpconfig()
	case "run":
		run()
	case "sweep":
		runSweep()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
