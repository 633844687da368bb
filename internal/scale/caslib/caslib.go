// Package caslib binds the CAS CL-series scale communication library
// (CASPRTC.dll) to scale.Vendor.
//
// The library is Windows-only. On other platforms Open returns
// ErrUnsupported and the simulator should be used instead.
//
// The DLL set is looked up next to the running executable first, then in
// DefaultDir:
//
//	CASPRTC.dll         protocol library
//	CASTCPIP.dll        TCP/IP transport
//	CLInterpreter.dll   CL3500/5000/5200/5500/7200 interpreter
//	CLJRInterpreter.dll CL5000J interpreter
package caslib

import (
	"errors"

	"github.com/nerrad567/scalesync/internal/scale"
)

// DefaultDir is the fallback SDK install directory.
const DefaultDir = `C:\CAS`

// DLL file names.
const (
	protocolDLL      = "CASPRTC.dll"
	transportDLL     = "CASTCPIP.dll"
	interpreterDLL   = "CLInterpreter.dll"
	jrInterpreterDLL = "CLJRInterpreter.dll"
)

// Library constants.
const (
	moduleTCPIP   = 1
	commTypeTCPIP = 1
	scaleTypeLP   = 100
	transTypeProc = 0
	socketType    = 1
	actionNotify  = 27
)

// Scale firmware version reported in AddConnectionEx (2.95.7, country 2,
// data version 20).
const (
	scaleMainVersion = 295
	scaleSubVersion  = 7
	scaleCountry     = 2
	scaleDataVersion = 20
)

// State notification codes delivered in the wdAction field of the state
// callback.
const (
	nativeStateConnected      = 1
	nativeStateDisconnected   = 2
	nativeStateReceiveTimeout = 3
)

// interpreters maps each supported scale model to its interpreter DLL.
var interpreters = []struct {
	model uint16
	dll   string
}{
	{3500, interpreterDLL},
	{5000, interpreterDLL},
	{5200, interpreterDLL},
	{5500, interpreterDLL},
	{7200, interpreterDLL},
	{5010, jrInterpreterDLL},
}

// Errors returned by the binding.
var (
	// ErrUnsupported is returned by Open on platforms without the library.
	ErrUnsupported = errors.New("caslib: CAS library is only available on windows/amd64")

	// ErrLoad is returned when the DLL set cannot be found or initialised.
	ErrLoad = errors.New("caslib: failed to load CAS library")

	// ErrCall is returned when a library function reports failure.
	ErrCall = errors.New("caslib: library call failed")
)

// Options configures Open.
type Options struct {
	// Dir overrides the SDK directory search.
	Dir string

	// Logger is optional.
	Logger scale.Logger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// translateState maps a native state code to scale.StateCode.
func translateState(code uint16) scale.StateCode {
	switch code {
	case nativeStateConnected:
		return scale.StateCodeConnected
	case nativeStateDisconnected:
		return scale.StateCodeDisconnected
	case nativeStateReceiveTimeout:
		return scale.StateCodeReceiveTimeout
	default:
		return scale.StateCode(100 + int(code))
	}
}

// candidateDirs returns the directories searched for the DLL set.
func candidateDirs(override, exeDir string) []string {
	if override != "" {
		return []string{override}
	}
	dirs := make([]string, 0, 2)
	if exeDir != "" {
		dirs = append(dirs, exeDir)
	}
	return append(dirs, DefaultDir)
}
