//go:build windows && amd64

package caslib

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/nerrad567/scalesync/internal/scale"
)

// transData mirrors TD_ST_TRANSDATA_V02, the callback payload.
type transData struct {
	ScaleID     int16
	IP          *byte
	CommType    uint8
	SendType    uint8
	DataType    uint8
	ScaleType   uint16
	ScaleModel  uint16
	Action      uint16
	DataSize    uint16
	Data        unsafe.Pointer
	MainVersion uint32
	SubVersion  uint32
	Country     uint32
	DataVersion uint32
	ReserveVer  uint32
	Reserve     unsafe.Pointer
}

// connection mirrors TD_ST_CONNECTION_V02. The struct is passed by value;
// on windows/amd64 that means a pointer to a caller-owned copy.
type connection struct {
	ScaleID     int16
	IP          *byte
	Port        uint16
	ScaleType   uint16
	ScaleModel  uint16
	TimeOut     uint16
	RetryCount  uint16
	CommType    uint8
	TransType   uint8
	SocketType  uint8
	DataType    uint8
	MsgNo       uint32
	StateMsgNo  uint32
	LogStatus   uint8
	LogFileName *byte
	RecvProc    uintptr
	StateProc   uintptr
	MainVersion uint32
	SubVersion  uint32
	Country     uint32
	DataVersion uint32
	ReserveVer  uint32
	Reserve     unsafe.Pointer
}

// The library calls back through plain function pointers with no user
// context, so the open Library is reachable from a package global.
// windows.NewCallback slots are never freed; both trampolines are created
// once per process.
var (
	active        atomic.Pointer[Library]
	callbacksOnce sync.Once
	recvCallback  uintptr
	stateCallback uintptr
)

// Library is a loaded CASPRTC.dll. Only one Library may be open at a time.
type Library struct {
	dll *windows.DLL

	procSetCommLibrary  *windows.Proc
	procAddInterpreter  *windows.Proc
	procAddConnectionEx *windows.Proc
	procConnect         *windows.Proc
	procDisconnect      *windows.Proc
	procSendData        *windows.Proc

	logger scale.Logger

	mu    sync.RWMutex
	sinks map[string]scale.Sink
	ips   map[string]*byte // C strings handed to the library; kept alive
}

// Ensure Library implements scale.Vendor.
var _ scale.Vendor = (*Library)(nil)

// Open loads the DLL set, registers the TCP/IP transport and the CL
// interpreters, and installs the callback trampolines.
//
// Returns:
//   - *Library: Ready for AddConnection
//   - error: ErrLoad if the DLLs cannot be found or initialised
func Open(opts Options) (*Library, error) {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	var (
		dll     *windows.DLL
		dir     string
		loadErr error
	)
	for _, candidate := range candidateDirs(opts.Dir, exeDir) {
		dll, loadErr = windows.LoadDLL(filepath.Join(candidate, protocolDLL))
		if loadErr == nil {
			dir = candidate
			break
		}
		logger.Debug("CAS library not found", "dir", candidate, "error", loadErr)
	}
	if dll == nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, protocolDLL, loadErr)
	}

	lib := &Library{
		dll:    dll,
		logger: logger,
		sinks:  make(map[string]scale.Sink),
		ips:    make(map[string]*byte),
	}

	procs := []struct {
		name string
		dst  **windows.Proc
	}{
		{"SetCommLibrary", &lib.procSetCommLibrary},
		{"AddInterpreter", &lib.procAddInterpreter},
		{"AddConnectionEx", &lib.procAddConnectionEx},
		{"Connect", &lib.procConnect},
		{"Disconnect", &lib.procDisconnect},
		{"SendData", &lib.procSendData},
	}
	for _, p := range procs {
		proc, err := dll.FindProc(p.name)
		if err != nil {
			_ = dll.Release() //nolint:errcheck // already failing
			return nil, fmt.Errorf("%w: %s: %w", ErrLoad, p.name, err)
		}
		*p.dst = proc
	}

	if err := lib.init(dir); err != nil {
		_ = dll.Release() //nolint:errcheck // already failing
		return nil, err
	}

	if !active.CompareAndSwap(nil, lib) {
		_ = dll.Release() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: library already open", ErrLoad)
	}

	callbacksOnce.Do(func() {
		recvCallback = windows.NewCallback(onRecv)
		stateCallback = windows.NewCallback(onState)
	})

	logger.Info("CAS library loaded", "dir", dir)
	return lib, nil
}

// init registers the transport and interpreter DLLs found in dir.
func (l *Library) init(dir string) error {
	tcpip, err := windows.BytePtrFromString(filepath.Join(dir, transportDLL))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if r, _, _ := l.procSetCommLibrary.Call(moduleTCPIP, uintptr(unsafe.Pointer(tcpip))); r == 0 {
		return fmt.Errorf("%w: SetCommLibrary(%s)", ErrLoad, transportDLL)
	}

	for _, in := range interpreters {
		path, err := windows.BytePtrFromString(filepath.Join(dir, in.dll))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLoad, err)
		}
		r, _, _ := l.procAddInterpreter.Call(scaleTypeLP, uintptr(in.model), uintptr(unsafe.Pointer(path)))
		l.logger.Debug("CAS interpreter registered", "model", in.model, "dll", in.dll, "result", r)
	}
	return nil
}

// AddConnection implements scale.Vendor.
func (l *Library) AddConnection(cfg scale.ConnectionConfig, sink scale.Sink) error {
	ip, err := windows.BytePtrFromString(cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: address %q: %w", ErrCall, cfg.Address, err)
	}

	conn := connection{
		ScaleID:     cfg.Index,
		IP:          ip,
		Port:        cfg.Port,
		ScaleType:   scaleTypeLP,
		ScaleModel:  cfg.Model,
		TimeOut:     cfg.TimeoutMs,
		RetryCount:  cfg.RetryCount,
		CommType:    commTypeTCPIP,
		TransType:   transTypeProc,
		SocketType:  socketType,
		DataType:    actionNotify,
		RecvProc:    recvCallback,
		StateProc:   stateCallback,
		MainVersion: scaleMainVersion,
		SubVersion:  scaleSubVersion,
		Country:     scaleCountry,
		DataVersion: scaleDataVersion,
	}

	l.mu.Lock()
	l.sinks[cfg.Address] = sink
	l.ips[cfg.Address] = ip
	l.mu.Unlock()

	if r, _, _ := l.procAddConnectionEx.Call(uintptr(unsafe.Pointer(&conn))); r == 0 {
		l.mu.Lock()
		delete(l.sinks, cfg.Address)
		delete(l.ips, cfg.Address)
		l.mu.Unlock()
		return fmt.Errorf("%w: AddConnectionEx(%s)", ErrCall, cfg.Address)
	}
	return nil
}

// Connect implements scale.Vendor.
func (l *Library) Connect(address string, index int16) error {
	ip, ok := l.ip(address)
	if !ok {
		return fmt.Errorf("%w: connect to unregistered %s", ErrCall, address)
	}
	if r, _, _ := l.procConnect.Call(uintptr(unsafe.Pointer(ip)), uintptr(index)); r == 0 {
		return fmt.Errorf("%w: Connect(%s, %d)", ErrCall, address, index)
	}
	return nil
}

// Disconnect implements scale.Vendor.
func (l *Library) Disconnect(address string, index int16) error {
	ip, ok := l.ip(address)
	if !ok {
		return fmt.Errorf("%w: disconnect unregistered %s", ErrCall, address)
	}
	if r, _, _ := l.procDisconnect.Call(uintptr(unsafe.Pointer(ip)), uintptr(index)); r == 0 {
		return fmt.Errorf("%w: Disconnect(%s, %d)", ErrCall, address, index)
	}
	return nil
}

// SendData implements scale.Vendor.
func (l *Library) SendData(address string, index int16, payload []byte) error {
	ip, ok := l.ip(address)
	if !ok {
		return fmt.Errorf("%w: send to unregistered %s", ErrCall, address)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrCall)
	}
	r, _, _ := l.procSendData.Call(
		uintptr(unsafe.Pointer(ip)),
		uintptr(index),
		uintptr(unsafe.Pointer(&payload[0])),
		uintptr(len(payload)),
	)
	if r == 0 {
		return fmt.Errorf("%w: SendData(%s, %d)", ErrCall, address, index)
	}
	return nil
}

// Close releases the DLL. Scales must be disconnected first.
func (l *Library) Close() error {
	active.CompareAndSwap(l, nil)
	return l.dll.Release()
}

func (l *Library) ip(address string) (*byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ip, ok := l.ips[address]
	return ip, ok
}

func (l *Library) sink(address string) (scale.Sink, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sinks[address]
	return s, ok
}

// onRecv is the receive trampoline. It runs on a library thread.
func onRecv(data *transData) uintptr {
	lib := active.Load()
	if lib == nil || data == nil || data.IP == nil {
		return 0
	}
	address := windows.BytePtrToString(data.IP)
	sink, ok := lib.sink(address)
	if !ok {
		lib.logger.Warn("CAS receive callback for unknown scale", "address", address)
		return 0
	}

	var payload []byte
	if data.Data != nil && data.DataSize > 0 {
		payload = make([]byte, data.DataSize)
		copy(payload, unsafe.Slice((*byte)(data.Data), data.DataSize))
	}
	sink.OnReceive(address, payload)
	return 0
}

// onState is the state trampoline. It runs on a library thread.
func onState(data *transData) uintptr {
	lib := active.Load()
	if lib == nil || data == nil || data.IP == nil {
		return 0
	}
	address := windows.BytePtrToString(data.IP)
	sink, ok := lib.sink(address)
	if !ok {
		lib.logger.Warn("CAS state callback for unknown scale", "address", address)
		return 0
	}
	sink.OnState(address, translateState(data.Action))
	return 0
}
