package conduit

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ygrebnov/conduit/pool"
)

// Go has no equivalent of Python's multiprocessing.Process forking a
// copy-on-write heap, so the process scope is built the way most Go
// process-supervisor tooling builds it: re-exec the current binary with an
// environment marker, hand the child a gob-encoded snapshot of the
// Runnable template over a Unix-domain control socket, and let it
// reconstruct its own copy. Grounded on
// original_source/puma/runnable/runner/process_runner.py for the lifecycle
// shape (spawn, handshake, run, join) and on DESIGN.md's transport note
// (gob + net.Conn, not protobuf/gRPC).
const (
	processEnvVar     = "CONDUIT_WORKER"
	processSockEnvVar = "CONDUIT_WORKER_SOCKETS"
	processAcceptWait = 30 * time.Second
)

// RunnableBuilder produces a fresh zero value of a registered concrete
// Runnable type, used only to register the type with gob and to confirm
// registration before a spawn is attempted; the actual worker-side value
// comes from decoding the parent's template, not from calling this again.
type RunnableBuilder func() any

var runnableRegistry = struct {
	sync.Mutex
	m map[string]RunnableBuilder
}{m: make(map[string]RunnableBuilder)}

// RegisterRunnableType registers typeName so a child process launched by a
// ProcessRunner can gob-decode the parent's template snapshot into the
// right concrete type. Must run (via package init, typically) in every
// binary that might execute as a conduit worker — in practice the same
// binary that constructs the ProcessRunner, re-exec'd.
func RegisterRunnableType(typeName string, builder RunnableBuilder) {
	runnableRegistry.Lock()
	defer runnableRegistry.Unlock()
	runnableRegistry.m[typeName] = builder
	gob.RegisterName(typeName, builder())
}

func lookupRunnableBuilder(typeName string) (RunnableBuilder, bool) {
	runnableRegistry.Lock()
	defer runnableRegistry.Unlock()
	b, ok := runnableRegistry.m[typeName]
	return b, ok
}

// handshake is the single message the parent sends the child over the
// control socket at spawn time.
type handshake struct {
	TypeName string
	Template any
}

// handshakeBufPool reuses the scratch buffers used to gob-encode a
// handshake message before writing it to the control socket, adapted from
// the teacher's pool package (originally a generic worker-object pool) to
// pool []byte-backed encode buffers instead, per DESIGN.md.
var handshakeBufPool pool.Pool = pool.NewDynamic(func() any { return new(bytes.Buffer) })

func encodeHandshake(hs handshake) ([]byte, error) {
	buf := handshakeBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer handshakeBufPool.Put(buf)
	if err := gob.NewEncoder(buf).Encode(hs); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// ProcessBinder finishes constructing a worker-side Executable from the
// decoded template, the same role RunnableFactory plays for a
// ThreadRunner. Unlike a RunnableFactory, it cannot be carried inside the
// Runner value itself (it would have to cross the process boundary as a
// closure, which gob cannot do) — the host application supplies it
// directly to ProcessMain in whatever binary becomes the worker process.
type ProcessBinder func(template any, cmd Observable[Command], status *PublisherSession[StatusMessage]) (Executable, error)

// NewProcessRunner constructs a Runner whose worker executes in a separate
// OS process. template is validated against ScopeProcessKind before spawn
// (spec.md §4.4: a NOT-ALLOWED-across-processes field holding a non-zero
// value fails here, naming the field); typeName must already be
// registered with RegisterRunnableType, and the same typeName's
// ProcessBinder must be wired into the child binary's call to ProcessMain.
func NewProcessRunner(name, typeName string, template any) (*Runner, error) {
	if err := ValidateScope(template, ScopeProcessKind); err != nil {
		return nil, err
	}
	if _, ok := lookupRunnableBuilder(typeName); !ok {
		return nil, fmt.Errorf("%w: runnable type %q not registered", ErrInvalid, typeName)
	}

	cmdBuf := NewProcessBuffer[Command](name+"-cmd", DefaultCommandAndStatusBufferSize, true)
	statusBuf := NewProcessBuffer[StatusMessage](name+"-status", DefaultCommandAndStatusBufferSize, true)

	r := newRunner(name, ScopeProcessKind, nil, cmdBuf, statusBuf)
	r.spawn = func(commandBuffer, statusBuffer) (func() error, func(), error) {
		if err := ValidateScope(template, ScopeProcessKind); err != nil {
			return nil, nil, err
		}
		return spawnProcessWorker(name, typeName, template, cmdBuf, statusBuf)
	}
	return r, nil
}

// spawnProcessWorker launches the child, completes the three-socket
// handshake (control, command, status), and returns a wait/kill pair for
// Runner.Start to drive. It blocks until the child has connected all three
// sockets, so by the time it returns, cmdBuf/statusBuf are fully live.
func spawnProcessWorker(
	name, typeName string,
	template any,
	cmdBuf *ProcessBuffer[Command],
	statusBuf *ProcessBuffer[StatusMessage],
) (wait func() error, kill func(), err error) {
	base := filepath.Join(os.TempDir(), "conduit-"+uuid.NewString())
	ctrlPath := base + ".ctrl.sock"
	cmdPath := base + ".cmd.sock"
	statusPath := base + ".status.sock"
	cleanup := func() {
		_ = os.Remove(ctrlPath)
		_ = os.Remove(cmdPath)
		_ = os.Remove(statusPath)
	}

	ctrlLn, err := net.Listen("unix", ctrlPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: control socket: %v", ErrWorkerFailure, err)
	}
	defer ctrlLn.Close()
	cmdLn, err := net.Listen("unix", cmdPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: command socket: %v", ErrWorkerFailure, err)
	}
	defer cmdLn.Close()
	statusLn, err := net.Listen("unix", statusPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: status socket: %v", ErrWorkerFailure, err)
	}
	defer statusLn.Close()

	child := exec.Command(os.Args[0], os.Args[1:]...)
	child.Env = append(os.Environ(),
		processEnvVar+"=1",
		processSockEnvVar+"="+strings.Join([]string{ctrlPath, cmdPath, statusPath}, ","),
	)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: spawning worker process %q: %v", ErrWorkerFailure, name, err)
	}

	ctrlConn, err := acceptWithin(ctrlLn, processAcceptWait)
	if err != nil {
		_ = child.Process.Kill()
		cleanup()
		return nil, nil, err
	}
	payload, err := encodeHandshake(handshake{TypeName: typeName, Template: template})
	if err != nil {
		_ = ctrlConn.Close()
		_ = child.Process.Kill()
		cleanup()
		return nil, nil, fmt.Errorf("%w: encoding handshake: %v", ErrWorkerFailure, err)
	}
	if _, err := ctrlConn.Write(payload); err != nil {
		_ = ctrlConn.Close()
		_ = child.Process.Kill()
		cleanup()
		return nil, nil, fmt.Errorf("%w: sending handshake: %v", ErrWorkerFailure, err)
	}
	_ = ctrlConn.Close()

	cmdConn, err := acceptWithin(cmdLn, processAcceptWait)
	if err != nil {
		_ = child.Process.Kill()
		cleanup()
		return nil, nil, err
	}
	cmdBuf.Connect(cmdConn)

	statusConn, err := acceptWithin(statusLn, processAcceptWait)
	if err != nil {
		_ = child.Process.Kill()
		cleanup()
		return nil, nil, err
	}
	statusBuf.Connect(statusConn)

	wait = func() error {
		err := child.Wait()
		cleanup()
		return err
	}
	kill = func() { _ = child.Process.Kill() }
	return wait, kill, nil
}

func acceptWithin(ln net.Listener, d time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, e := ln.Accept()
		ch <- result{c, e}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: accepting worker connection: %v", ErrWorkerFailure, r.err)
		}
		return r.conn, nil
	case <-time.After(d):
		return nil, fmt.Errorf("%w: worker did not connect within %s", ErrTimeout, d)
	}
}

// ProcessMain is the child-process entrypoint. Call it as the first
// statement of main(): it returns false immediately in a normal process,
// and in a process spawned by NewProcessRunner it connects back to the
// parent's sockets, decodes the handshake, rebuilds the Runnable via bind,
// runs it to completion, reports the terminal status, and exits the
// process — the re-exec equivalent of what Python's multiprocessing.Process
// gets for free from fork().
func ProcessMain(bind ProcessBinder) bool {
	if os.Getenv(processEnvVar) == "" {
		return false
	}
	if err := runProcessWorker(bind); err != nil {
		componentLogger("process-runner").Error().Err(err).Msg("worker process failed")
		os.Exit(1)
	}
	os.Exit(0)
	return true
}

func runProcessWorker(bind ProcessBinder) error {
	parts := strings.Split(os.Getenv(processSockEnvVar), ",")
	if len(parts) != 3 {
		return fmt.Errorf("%w: malformed %s", ErrInvalid, processSockEnvVar)
	}
	ctrlPath, cmdPath, statusPath := parts[0], parts[1], parts[2]

	ctrlConn, err := net.Dial("unix", ctrlPath)
	if err != nil {
		return fmt.Errorf("%w: dialing control socket: %v", ErrWorkerFailure, err)
	}
	var hs handshake
	if err := gob.NewDecoder(ctrlConn).Decode(&hs); err != nil {
		_ = ctrlConn.Close()
		return fmt.Errorf("%w: decoding handshake: %v", ErrWorkerFailure, err)
	}
	_ = ctrlConn.Close()

	if _, ok := lookupRunnableBuilder(hs.TypeName); !ok {
		return fmt.Errorf("%w: runnable type %q not registered in worker process", ErrInvalid, hs.TypeName)
	}
	ZeroSetNilFields(hs.Template)

	cmdConn, err := net.Dial("unix", cmdPath)
	if err != nil {
		return fmt.Errorf("%w: dialing command socket: %v", ErrWorkerFailure, err)
	}
	statusConn, err := net.Dial("unix", statusPath)
	if err != nil {
		return fmt.Errorf("%w: dialing status socket: %v", ErrWorkerFailure, err)
	}

	cmdBuf := NewProcessBuffer[Command]("worker-cmd", DefaultCommandAndStatusBufferSize, true)
	cmdBuf.Connect(cmdConn)
	statusBuf := NewProcessBuffer[StatusMessage]("worker-status", DefaultCommandAndStatusBufferSize, true)
	statusBuf.Connect(statusConn)

	statusPub := statusBuf.Publish()
	defer statusPub.Close()

	runnable, err := bind(hs.Template, cmdBuf, statusPub)
	if err != nil {
		return statusPub.PublishComplete(err, Infinite, PolicyRaise)
	}
	if binder, ok := runnable.(interface{ MarkExecuting() }); ok {
		binder.MarkExecuting()
	}
	if err := statusPub.PublishValue(StartedStatus{}, Infinite, PolicyRaise); err != nil {
		return err
	}

	execErr := runFatal(runnable.Execute, runnable.Name(), childScopeIDOf(runnable))
	return statusPub.PublishComplete(execErr, Infinite, PolicyRaise)
}
