package txbridge

import "fmt"

// 命令类型
type CommandKind int

const (
	// 写入 key，回复 key 此前的值
	CommandInsert CommandKind = iota + 1
	// 读取 key
	CommandGet
	// 删除 key，回复 key 此前的值
	CommandRemove
	// 事务提交后刷盘，回复 ack
	CommandFlush
	// 结束事务并提交
	CommandClose
	// 结束事务并回滚
	CommandAbort
)

func (c CommandKind) String() string {
	switch c {
	case CommandInsert:
		return "insert"
	case CommandGet:
		return "get"
	case CommandRemove:
		return "remove"
	case CommandFlush:
		return "flush"
	case CommandClose:
		return "close"
	case CommandAbort:
		return "abort"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(c))
	}
}

// 终结命令：被 worker 接收后不再有回复，只会有一条 Completion
func (c CommandKind) Terminal() bool {
	return c == CommandClose || c == CommandAbort
}

// Command 对事务句柄执行的一次操作，构造后不可修改
type Command struct {
	Kind  CommandKind `json:"kind"`
	Key   []byte      `json:"key,omitempty"`
	Value []byte      `json:"value,omitempty"`
}

func InsertCommand(key, value []byte) Command {
	return Command{Kind: CommandInsert, Key: key, Value: value}
}

func GetCommand(key []byte) Command {
	return Command{Kind: CommandGet, Key: key}
}

func RemoveCommand(key []byte) Command {
	return Command{Kind: CommandRemove, Key: key}
}

func FlushCommand() Command {
	return Command{Kind: CommandFlush}
}

func CloseCommand() Command {
	return Command{Kind: CommandClose}
}

func AbortCommand() Command {
	return Command{Kind: CommandAbort}
}

// Mailbox 调用方的收件地址
type Mailbox chan<- Message

// Request 命令以及路由信息。ReplyTo 接收该命令的 Reply，Token 原样带回用于关联请求和回复
type Request struct {
	Caller  string  `json:"caller"`
	Token   string  `json:"token"`
	ReplyTo Mailbox `json:"-"`
	Command Command `json:"command"`
}
