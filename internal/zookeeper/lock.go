// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/logger"
)

const lockRoot = "/loyalty_locks" // 所有分布式锁的根节点

// ErrLockHeld TryLock 时锁已被其他进程持有
var ErrLockHeld = errors.New("lock is held by another process")

// Connect 连接 ZooKeeper 并等待会话建立
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, errors.New("timeout waiting for zookeeper session")
		}
	}
}

// DistributedLock 基于临时顺序节点的互斥锁
type DistributedLock struct {
	conn     *zk.Conn
	path     string // 例如 /loyalty_locks/sweep-birthdays
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 确保锁路径存在
func NewDistributedLock(conn *zk.Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if _, err := conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, errors.Wrapf(err, "create lock node %s", p)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func (l *DistributedLock) enqueue() error {
	node, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "create sequential node")
	}
	l.lockNode = node
	return nil
}

// predecessor 返回排在自己前面的节点，为空表示自己持有锁
func (l *DistributedLock) predecessor() (string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return "", errors.Wrap(err, "list lock children")
	}
	// protected 节点带 GUID 前缀，按序号排序
	sort.Slice(children, func(i, j int) bool { return seq(children[i]) < seq(children[j]) })
	mine := strings.TrimPrefix(l.lockNode, l.path+"/")
	for i, child := range children {
		if child != mine {
			continue
		}
		if i == 0 {
			return "", nil
		}
		return l.path + "/" + children[i-1], nil
	}
	return "", errors.New("own lock node disappeared")
}

func seq(node string) string {
	if i := strings.LastIndex(node, "lock-"); i >= 0 {
		return node[i+len("lock-"):]
	}
	return node
}

// TryLock 不等待，锁被占用时返回 ErrLockHeld
func (l *DistributedLock) TryLock() error {
	if err := l.enqueue(); err != nil {
		return err
	}
	prev, err := l.predecessor()
	if err == nil && prev == "" {
		return nil
	}
	_ = l.Unlock()
	if err != nil {
		return err
	}
	return ErrLockHeld
}

// Lock 阻塞直到获得锁或 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	if err := l.enqueue(); err != nil {
		return err
	}
	for {
		prev, err := l.predecessor()
		if err != nil {
			_ = l.Unlock()
			return err
		}
		if prev == "" {
			return nil
		}
		// 只监听前一个节点，避免羊群效应
		exists, _, events, err := l.conn.ExistsW(prev)
		if err != nil {
			_ = l.Unlock()
			return errors.Wrap(err, "watch previous node")
		}
		if !exists {
			continue
		}
		select {
		case <-events:
		case <-ctx.Done():
			_ = l.Unlock()
			return ctx.Err()
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	if err := l.conn.Delete(l.lockNode, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "delete lock node")
	}
	l.lockNode = ""
	return nil
}

// Locker 以资源名为单位的互斥执行
type Locker struct {
	conn *zk.Conn
}

func NewLocker(conn *zk.Conn) *Locker { return &Locker{conn: conn} }

// Run 拿到锁才执行 fn；锁被其他副本持有时跳过并返回 ErrLockHeld
func (k *Locker) Run(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	lock, err := NewDistributedLock(k.conn, resource)
	if err != nil {
		return err
	}
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resource", resource).Msg("failed to release lock")
		}
	}()
	return fn(ctx)
}
