package driver

import "fmt"

// State 驱动流程的状态
//
//	START -> CAPABILITY_CHECK -> {RUN_PRIMARY | RUN_FALLBACK | FAIL_NO_CAPABILITY}
//	      -> {REPLACE_AND_SUCCEED -> SUCCEED | FAIL_RUNTIME}
//
// 输入文件不存在时直接进入 FAIL_INPUT_MISSING
type State int

const (
	StateStart State = iota
	StateCapabilityCheck
	StateRunPrimary
	StateRunFallback
	StateReplace
	StateSucceed
	StateFailInputMissing
	StateFailNoCapability
	StateFailRuntime
)

var stateNames = map[State]string{
	StateStart:            "START",
	StateCapabilityCheck:  "CAPABILITY_CHECK",
	StateRunPrimary:       "RUN_PRIMARY",
	StateRunFallback:      "RUN_FALLBACK",
	StateReplace:          "REPLACE_AND_SUCCEED",
	StateSucceed:          "SUCCEED",
	StateFailInputMissing: "FAIL_INPUT_MISSING",
	StateFailNoCapability: "FAIL_NO_CAPABILITY",
	StateFailRuntime:      "FAIL_RUNTIME",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	switch s {
	case StateSucceed, StateFailInputMissing, StateFailNoCapability, StateFailRuntime:
		return true
	}
	return false
}

// 进程退出码
const (
	ExitOK           = 0
	ExitRuntime      = 1
	ExitNoCapability = 2
	ExitInputMissing = 3
)

// ExitCode 终止状态对应的退出码，非终止状态按运行失败处理
func ExitCode(s State) int {
	switch s {
	case StateSucceed:
		return ExitOK
	case StateFailNoCapability:
		return ExitNoCapability
	case StateFailInputMissing:
		return ExitInputMissing
	default:
		return ExitRuntime
	}
}
