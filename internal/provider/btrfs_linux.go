//go:build linux

package provider

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// btrfs ioctl ABI, mirrored from <linux/btrfs.h>.
const (
	btrfsIoctlMagic = 0x94

	btrfsSubvolNameMax = 4039
	btrfsPathNameMax   = 4087

	btrfsSubvolCreateAsync = 1 << 0
)

// struct btrfs_ioctl_vol_args_v2
type btrfsVolArgsV2 struct {
	Fd      int64
	TransID uint64
	Flags   uint64
	Unused  [4]uint64
	Name    [btrfsSubvolNameMax + 1]byte
}

// struct btrfs_ioctl_vol_args
type btrfsVolArgs struct {
	Fd   int64
	Name [btrfsPathNameMax + 1]byte
}

// _IOW / _IO request encodings for the BTRFS magic.
func btrfsIOW(nr, size uintptr) uintptr {
	return 1<<30 | size<<16 | btrfsIoctlMagic<<8 | nr
}

func btrfsIO(nr uintptr) uintptr {
	return btrfsIoctlMagic<<8 | nr
}

var (
	btrfsIocSnapCreateV2 = btrfsIOW(23, unsafe.Sizeof(btrfsVolArgsV2{}))
	btrfsIocWaitSync     = btrfsIOW(22, unsafe.Sizeof(uint64(0)))
	btrfsIocSnapDestroy  = btrfsIOW(15, unsafe.Sizeof(btrfsVolArgs{}))
	btrfsIocSync         = btrfsIO(8)
)

// Btrfs implements Provider against a btrfs subvolume using raw
// ioctls: async snapshot creation (BTRFS_IOC_SNAP_CREATE_V2 with the
// async flag), transaction wait (BTRFS_IOC_WAIT_SYNC), snapshot
// destroy (BTRFS_IOC_SNAP_DESTROY) and volume sync (BTRFS_IOC_SYNC).
type Btrfs struct {
	volume   string
	snapshot string
	dir      *os.File
}

// NewBtrfs opens the subvolume directory and returns a provider that
// creates and destroys a snapshot named snapshot inside it.
func NewBtrfs(volume, snapshot string) (*Btrfs, error) {
	if len(snapshot) == 0 || len(snapshot) > btrfsSubvolNameMax {
		return nil, fmt.Errorf("invalid snapshot name %q", snapshot)
	}
	dir, err := os.Open(volume)
	if err != nil {
		return nil, fmt.Errorf("opening subvolume %s: %w", volume, err)
	}
	return &Btrfs{volume: volume, snapshot: snapshot, dir: dir}, nil
}

// Close releases the subvolume directory handle.
func (b *Btrfs) Close() error {
	return b.dir.Close()
}

func (b *Btrfs) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.dir.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// CreateAsync issues the asynchronous snapshot creation and returns
// the transaction id filled in by the kernel.
func (b *Btrfs) CreateAsync(_ context.Context) (uint64, error) {
	args := btrfsVolArgsV2{
		Fd:    int64(b.dir.Fd()),
		Flags: btrfsSubvolCreateAsync,
	}
	copy(args.Name[:btrfsSubvolNameMax], b.snapshot)

	if err := b.ioctl(btrfsIocSnapCreateV2, unsafe.Pointer(&args)); err != nil {
		return 0, fmt.Errorf("creating async snapshot %s: %w", b.snapshot, err)
	}
	return args.TransID, nil
}

// WaitCommit blocks until the given transaction has committed.
func (b *Btrfs) WaitCommit(_ context.Context, transID uint64) error {
	if err := b.ioctl(btrfsIocWaitSync, unsafe.Pointer(&transID)); err != nil {
		return fmt.Errorf("waiting for transaction %d: %w", transID, err)
	}
	return nil
}

// Destroy removes the snapshot subvolume.
func (b *Btrfs) Destroy(_ context.Context) error {
	args := btrfsVolArgs{Fd: int64(b.dir.Fd())}
	copy(args.Name[:btrfsPathNameMax], b.snapshot)

	if err := b.ioctl(btrfsIocSnapDestroy, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("destroying snapshot %s: %w", b.snapshot, err)
	}
	return nil
}

// Sync forces a volume-wide sync.
func (b *Btrfs) Sync(_ context.Context) error {
	if err := b.ioctl(btrfsIocSync, nil); err != nil {
		return fmt.Errorf("syncing %s: %w", b.volume, err)
	}
	return nil
}
