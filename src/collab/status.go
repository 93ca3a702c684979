package collab

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle stage of a Session.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateWaiting  State = "waiting"
	StateActive   State = "active"
	StateError    State = "error"
	StateStopped  State = "stopped"
)

func (s State) running() bool {
	return s == StateStarting || s == StateWaiting || s == StateActive
}

// ErrorCode is the machine-readable reason attached to an error status.
type ErrorCode string

const (
	CodeMissingSuperAdmin ErrorCode = "missing_super_admin"
	CodeSuperAdminLeft    ErrorCode = "super_admin_left"
	CodeRoomFull          ErrorCode = "room_full"
	CodeConnectionLost    ErrorCode = "connection_lost"
)

// ErrSessionActive is returned by Start while a session is already running.
var ErrSessionActive = errors.New("collab: session already active")

// UserInfo identifies the other member of the room.
type UserInfo struct {
	Name         string
	IsSuperAdmin bool
}

// Status is delivered to status listeners on every relevant transition.
type Status struct {
	Connected bool
	RoomUsers int
	CanSync   bool
	Message   string
	Error     string
	ErrorCode ErrorCode
	OtherUser *UserInfo
}

// Notifier shows one-shot messages to the user.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Warning(msg string)
}

type nopNotifier struct{}

func (nopNotifier) Info(string)    {}
func (nopNotifier) Success(string) {}
func (nopNotifier) Warning(string) {}

// Config tunes a Session.
type Config struct {
	MaxRoomUsers     int           `yaml:"max_room_users"`
	AwarenessDelay   time.Duration `yaml:"awareness_delay"`
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
	SuperAdminColor  string        `yaml:"super_admin_color"`
	RegularColor     string        `yaml:"regular_color"`
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		MaxRoomUsers:     2,
		AwarenessDelay:   500 * time.Millisecond,
		BootstrapTimeout: 500 * time.Millisecond,
		SuperAdminColor:  "#ff6b6b",
		RegularColor:     "#4dabf7",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRoomUsers <= 0 {
		c.MaxRoomUsers = d.MaxRoomUsers
	}
	if c.AwarenessDelay <= 0 {
		c.AwarenessDelay = d.AwarenessDelay
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = d.BootstrapTimeout
	}
	if c.SuperAdminColor == "" {
		c.SuperAdminColor = d.SuperAdminColor
	}
	if c.RegularColor == "" {
		c.RegularColor = d.RegularColor
	}
	return c
}

// User-facing texts.
const (
	msgReady          = "🚀 协同编辑已准备就绪，等待伙伴加入..."
	msgWaitStudent    = "👀 正在等待学生加入房间..."
	msgWaitSuperAdmin = "🎯 正在等待超管加入房间..."
	msgActive         = "🎉 协同编辑已激活，开始愉快的代码之旅吧！"

	msgMissingSuperAdmin   = "房间内必须有一个超级管理员"
	errMissingSuperAdmin   = "缺少超级管理员"
	toastMissingSuperAdmin = "🎓 协同编辑需要一位超级管理员坐镇哦"

	errSuperAdminLeft = "超管已离开"

	msgRoomFull = "房间人数已满，已自动断开连接"

	msgDisconnected   = "连接已断开"
	errDisconnected   = "信令连接断开"
	toastDisconnected = "📡 协同编辑连接断开了，可能网络不太稳定呢"
)

func superAdminLeftMessage(name string) string { return fmt.Sprintf("超管 %s 已退出", name) }

func superAdminLeftToast(name string) string {
	return fmt.Sprintf("🎈 超管 %s 溜了，协同编辑已断开连接", name)
}

func roomFullError(max int) string { return fmt.Sprintf("房间最多只能有%d个人", max) }

func roomFullToast(max int) string {
	return fmt.Sprintf("🚪 哎呀，房间已经坐满了（最多%d人），已自动断开连接", max)
}

// CanSync reports whether a room of size members, with or without a
// privileged member, may edit together.
func CanSync(size, max int, hasSuperAdmin bool) bool {
	return size == max && hasSuperAdmin
}

// RoomName returns the rendezvous key for a problem.
func RoomName(problemID string) string {
	return "problem-" + problemID
}
