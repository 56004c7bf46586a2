package vm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BuiltinNativeCall is a native-call id into the fixed dispatch table.
// Values are stable: they are the id a bytecode ncall instruction
// carries, and the assembler's predefined __<name> symbols resolve to
// them.
type BuiltinNativeCall uint32

const (
	BncRead BuiltinNativeCall = iota
	BncWrite
	BncOpen
	BncClose
	BncStat
	BncFstat
	BncLstat
	BncPoll
	BncLseek
	BncPipe
	BncSelect
	BncDup
	BncDup2
	BncGetpid
	BncSendfile
	BncSocket
	BncConnect
	BncAccept
	BncSendto
	BncRecvfrom
	BncShutdown
	BncBind
	BncListen
	BncGetsockname
	BncGetpeername
	BncFcntl
	BncFlock
	BncFsync
	BncGetcwd
	BncChdir
	BncRename
	BncMkdir
	BncRmdir
	BncCreat
	BncLink
	BncUnlink
	BncSymlink

	bncCount
)

var builtinNames = [bncCount]string{
	BncRead: "read", BncWrite: "write", BncOpen: "open", BncClose: "close",
	BncStat: "stat", BncFstat: "fstat", BncLstat: "lstat", BncPoll: "poll",
	BncLseek: "lseek", BncPipe: "pipe", BncSelect: "select", BncDup: "dup",
	BncDup2: "dup2", BncGetpid: "getpid", BncSendfile: "sendfile",
	BncSocket: "socket", BncConnect: "connect", BncAccept: "accept",
	BncSendto: "sendto", BncRecvfrom: "recvfrom", BncShutdown: "shutdown",
	BncBind: "bind", BncListen: "listen", BncGetsockname: "getsockname",
	BncGetpeername: "getpeername", BncFcntl: "fcntl", BncFlock: "flock",
	BncFsync: "fsync", BncGetcwd: "getcwd", BncChdir: "chdir",
	BncRename: "rename", BncMkdir: "mkdir", BncRmdir: "rmdir",
	BncCreat: "creat", BncLink: "link", BncUnlink: "unlink",
	BncSymlink: "symlink",
}

func (b BuiltinNativeCall) String() string {
	if b >= bncCount {
		return "invalid"
	}
	return builtinNames[b]
}

// BuiltinCount is the number of entries in the fixed native-call table.
func BuiltinCount() int { return int(bncCount) }

// BuiltinID resolves a builtin's canonical name to its table id, for
// the assembler's predefined __<name> symbols.
func BuiltinID(name string) (BuiltinNativeCall, bool) {
	for i, n := range builtinNames {
		if n == name {
			return BuiltinNativeCall(i), true
		}
	}
	return 0, false
}

// NativeCall is a host-backed routine reachable through ncall. It reads
// its arguments from args (in push order: args[0] is the first pushed)
// and finishes by calling v.Return with its result values, which
// performs the same frame unwind as a bytecode ret.
type NativeCall func(v *VM, args []uint64) error

func argCount(args []uint64, want int, name string) error {
	if len(args) != want {
		return fmt.Errorf("%s: expected %d arguments, got %d", name, want, len(args))
	}
	return nil
}

// NativeBuiltinCallTable is the fixed dispatch table indexed by
// BuiltinNativeCall. Ids at or beyond its length are rejected rather
// than treated as raw host function pointers: the spec's unsafe-mode
// fallback is not implemented in this build, per the re-architecture
// guidance to validate native call ids against a registration table.
var NativeBuiltinCallTable = [bncCount]NativeCall{
	BncRead:  bncReadImpl,
	BncWrite: bncWriteImpl,
	BncOpen:  bncOpenImpl,
	BncClose: bncCloseImpl,
	BncStat:  bncStatImpl,
	BncFstat: bncFstatImpl,
	BncLstat: bncLstatImpl,
	BncPoll:  bncPollImpl,
	BncLseek: bncLseekImpl,
	BncPipe:  bncPipeImpl,
	BncSelect: bncSelectImpl,
	BncDup:    bncDupImpl,
	BncDup2:   bncDup2Impl,
	BncGetpid: bncGetpidImpl,
	BncSendfile: bncSendfileImpl,
	BncSocket:      bncSocketImpl,
	BncConnect:     bncConnectImpl,
	BncAccept:      bncAcceptImpl,
	BncSendto:      bncSendtoImpl,
	BncRecvfrom:    bncRecvfromImpl,
	BncShutdown:    bncShutdownImpl,
	BncBind:        bncBindImpl,
	BncListen:      bncListenImpl,
	BncGetsockname: bncGetsocknameImpl,
	BncGetpeername: bncGetpeernameImpl,
	BncFcntl:       bncFcntlImpl,
	BncFlock:       bncFlockImpl,
	BncFsync:       bncFsyncImpl,
	BncGetcwd:      bncGetcwdImpl,
	BncChdir:       bncChdirImpl,
	BncRename:      bncRenameImpl,
	BncMkdir:       bncMkdirImpl,
	BncRmdir:       bncRmdirImpl,
	BncCreat:       bncCreatImpl,
	BncLink:        bncLinkImpl,
	BncUnlink:      bncUnlinkImpl,
	BncSymlink:     bncSymlinkImpl,
}

func bncReadImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "read"); err != nil {
		return err
	}
	fd, addr, n := int(int32(args[0])), uint32(args[1]), int(args[2])
	buf := make([]byte, n)
	read, err := unix.Read(fd, buf)
	if err != nil {
		return v.Return(^uint64(0))
	}
	if err := v.RAM.WriteBytes(addr, buf[:read]); err != nil {
		return err
	}
	return v.Return(uint64(read))
}

func bncWriteImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "write"); err != nil {
		return err
	}
	fd, addr, n := int(int32(args[0])), uint32(args[1]), int(args[2])
	buf, err := v.RAM.ReadBytes(addr, n)
	if err != nil {
		return err
	}
	written, err := unix.Write(fd, buf)
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(written))
}

func bncOpenImpl(v *VM, args []uint64) error {
	if len(args) != 2 && len(args) != 3 {
		return fmt.Errorf("open: expected 2 or 3 arguments, got %d", len(args))
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	mode := 0o644
	if len(args) == 3 {
		mode = int(args[2])
	}
	fd, err := unix.Open(path, int(int32(args[1])), uint32(mode))
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(fd))
}

func bncCloseImpl(v *VM, args []uint64) error {
	if err := argCount(args, 1, "close"); err != nil {
		return err
	}
	if err := unix.Close(int(int32(args[0]))); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

// writeStat packs the subset of stat(2) fields cyn programs can
// portably rely on into guest memory: size, mode, uid, gid, mtime, each
// an 8-byte little-endian slot. This is a cyn-specific layout, not a
// byte-for-byte mirror of any host's struct stat.
func writeStat(v *VM, addr uint32, st *unix.Stat_t) error {
	fields := []uint64{
		uint64(st.Size), uint64(st.Mode), uint64(st.Uid), uint64(st.Gid),
		uint64(st.Mtim.Sec),
	}
	for i, f := range fields {
		if err := v.RAM.WriteWidth(addr+uint32(i*8), WidthQuad, f); err != nil {
			return err
		}
	}
	return nil
}

func bncStatImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "stat"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return v.Return(^uint64(0))
	}
	if err := writeStat(v, uint32(args[1]), &st); err != nil {
		return err
	}
	return v.Return(0)
}

func bncFstatImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "fstat"); err != nil {
		return err
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(int32(args[0])), &st); err != nil {
		return v.Return(^uint64(0))
	}
	if err := writeStat(v, uint32(args[1]), &st); err != nil {
		return err
	}
	return v.Return(0)
}

func bncLstatImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "lstat"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return v.Return(^uint64(0))
	}
	if err := writeStat(v, uint32(args[1]), &st); err != nil {
		return err
	}
	return v.Return(0)
}

func bncPollImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "poll"); err != nil {
		return err
	}
	fd, events, timeout := int32(args[0]), int16(args[1]), int(int32(args[2]))
	fds := []unix.PollFd{{Fd: fd, Events: events}}
	n, err := unix.Poll(fds, timeout)
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(int64(n)), uint64(uint16(fds[0].Revents)))
}

func bncLseekImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "lseek"); err != nil {
		return err
	}
	off, err := unix.Seek(int(int32(args[0])), int64(args[1]), int(int32(args[2])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(off))
}

func bncPipeImpl(v *VM, args []uint64) error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0, uint64(uint32(fds[0])), uint64(uint32(fds[1])))
}

func bncSelectImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "select"); err != nil {
		return err
	}
	fd, timeoutMs := int(int32(args[0])), int(int32(args[1]))
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(int64(n)))
}

func bncDupImpl(v *VM, args []uint64) error {
	if err := argCount(args, 1, "dup"); err != nil {
		return err
	}
	fd, err := unix.Dup(int(int32(args[0])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(fd))
}

func bncDup2Impl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "dup2"); err != nil {
		return err
	}
	if err := unix.Dup2(int(int32(args[0])), int(int32(args[1]))); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(args[1])
}

func bncGetpidImpl(v *VM, args []uint64) error {
	return v.Return(uint64(uint32(os.Getpid())))
}

func bncSendfileImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "sendfile"); err != nil {
		return err
	}
	outFd, inFd, count := int(int32(args[0])), int(int32(args[1])), int(args[2])
	n, err := unix.Sendfile(outFd, inFd, nil, count)
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(n))
}

// sockAddrLayout is the cyn-specific 8-byte IPv4 socket address encoding
// read from guest memory: u16 family (always AF_INET), u16 port (host
// byte order), 4 bytes of IPv4 address. Full host libc sockaddr ABI
// compatibility is out of scope for a VM with no native FFI.
func readSockAddr(v *VM, addr uint32) (unix.Sockaddr, error) {
	raw, err := v.RAM.ReadBytes(addr, 8)
	if err != nil {
		return nil, err
	}
	port := int(raw[2]) | int(raw[3])<<8
	var ip [4]byte
	copy(ip[:], raw[4:8])
	return &unix.SockaddrInet4{Port: port, Addr: ip}, nil
}

func writeSockAddr(v *VM, addr uint32, sa unix.Sockaddr) error {
	inet4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return fmt.Errorf("unsupported socket address family")
	}
	buf := make([]byte, 8)
	buf[0], buf[1] = byte(unix.AF_INET), 0
	buf[2], buf[3] = byte(inet4.Port), byte(inet4.Port>>8)
	copy(buf[4:8], inet4.Addr[:])
	return v.RAM.WriteBytes(addr, buf)
}

func bncSocketImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "socket"); err != nil {
		return err
	}
	fd, err := unix.Socket(int(int32(args[0])), int(int32(args[1])), int(int32(args[2])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(fd))
}

func bncConnectImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "connect"); err != nil {
		return err
	}
	sa, err := readSockAddr(v, uint32(args[1]))
	if err != nil {
		return err
	}
	if err := unix.Connect(int(int32(args[0])), sa); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncAcceptImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "accept"); err != nil {
		return err
	}
	fd, sa, err := unix.Accept(int(int32(args[0])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	if sa != nil {
		_ = writeSockAddr(v, uint32(args[1]), sa)
	}
	return v.Return(uint64(fd))
}

func bncSendtoImpl(v *VM, args []uint64) error {
	if err := argCount(args, 4, "sendto"); err != nil {
		return err
	}
	buf, err := v.RAM.ReadBytes(uint32(args[1]), int(args[2]))
	if err != nil {
		return err
	}
	sa, err := readSockAddr(v, uint32(args[3]))
	if err != nil {
		return err
	}
	if err := unix.Sendto(int(int32(args[0])), buf, 0, sa); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(len(buf)))
}

func bncRecvfromImpl(v *VM, args []uint64) error {
	if err := argCount(args, 4, "recvfrom"); err != nil {
		return err
	}
	buf := make([]byte, int(args[2]))
	n, _, err := unix.Recvfrom(int(int32(args[0])), buf, 0)
	if err != nil {
		return v.Return(^uint64(0))
	}
	if err := v.RAM.WriteBytes(uint32(args[1]), buf[:n]); err != nil {
		return err
	}
	return v.Return(uint64(n))
}

func bncShutdownImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "shutdown"); err != nil {
		return err
	}
	if err := unix.Shutdown(int(int32(args[0])), int(int32(args[1]))); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncBindImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "bind"); err != nil {
		return err
	}
	sa, err := readSockAddr(v, uint32(args[1]))
	if err != nil {
		return err
	}
	if err := unix.Bind(int(int32(args[0])), sa); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncListenImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "listen"); err != nil {
		return err
	}
	if err := unix.Listen(int(int32(args[0])), int(int32(args[1]))); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncGetsocknameImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "getsockname"); err != nil {
		return err
	}
	sa, err := unix.Getsockname(int(int32(args[0])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	if err := writeSockAddr(v, uint32(args[1]), sa); err != nil {
		return err
	}
	return v.Return(0)
}

func bncGetpeernameImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "getpeername"); err != nil {
		return err
	}
	sa, err := unix.Getpeername(int(int32(args[0])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	if err := writeSockAddr(v, uint32(args[1]), sa); err != nil {
		return err
	}
	return v.Return(0)
}

func bncFcntlImpl(v *VM, args []uint64) error {
	if err := argCount(args, 3, "fcntl"); err != nil {
		return err
	}
	n, err := unix.FcntlInt(uintptr(int32(args[0])), int(int32(args[1])), int(int32(args[2])))
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(int64(n)))
}

func bncFlockImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "flock"); err != nil {
		return err
	}
	if err := unix.Flock(int(int32(args[0])), int(int32(args[1]))); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncFsyncImpl(v *VM, args []uint64) error {
	if err := argCount(args, 1, "fsync"); err != nil {
		return err
	}
	if err := unix.Fsync(int(int32(args[0]))); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncGetcwdImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "getcwd"); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return v.Return(^uint64(0))
	}
	data := append([]byte(cwd), 0)
	if uint64(len(data)) > args[1] {
		return v.Return(^uint64(0))
	}
	if err := v.RAM.WriteBytes(uint32(args[0]), data); err != nil {
		return err
	}
	return v.Return(uint64(args[0]))
}

func bncChdirImpl(v *VM, args []uint64) error {
	if err := argCount(args, 1, "chdir"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	if err := os.Chdir(path); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncRenameImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "rename"); err != nil {
		return err
	}
	oldPath, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	newPath, err := v.RAM.ReadCString(uint32(args[1]))
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncMkdirImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "mkdir"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	if err := os.Mkdir(path, os.FileMode(args[1])); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncRmdirImpl(v *VM, args []uint64) error {
	if err := argCount(args, 1, "rmdir"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncCreatImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "creat"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, uint32(args[1]))
	if err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(uint64(fd))
}

func bncLinkImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "link"); err != nil {
		return err
	}
	oldPath, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	newPath, err := v.RAM.ReadCString(uint32(args[1]))
	if err != nil {
		return err
	}
	if err := os.Link(oldPath, newPath); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncUnlinkImpl(v *VM, args []uint64) error {
	if err := argCount(args, 1, "unlink"); err != nil {
		return err
	}
	path, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}

func bncSymlinkImpl(v *VM, args []uint64) error {
	if err := argCount(args, 2, "symlink"); err != nil {
		return err
	}
	oldPath, err := v.RAM.ReadCString(uint32(args[0]))
	if err != nil {
		return err
	}
	newPath, err := v.RAM.ReadCString(uint32(args[1]))
	if err != nil {
		return err
	}
	if err := os.Symlink(oldPath, newPath); err != nil {
		return v.Return(^uint64(0))
	}
	return v.Return(0)
}
