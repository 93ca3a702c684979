package types

import (
	"strconv"
	"time"
)

// JudgeResult is the numeric result code of a submission.
type JudgeResult int

const (
	ResultCompileError      JudgeResult = -2
	ResultWrongAnswer       JudgeResult = -1
	ResultAccepted          JudgeResult = 0
	ResultCPUTimeLimit      JudgeResult = 1
	ResultRealTimeLimit     JudgeResult = 2
	ResultMemoryLimit       JudgeResult = 3
	ResultRuntimeError      JudgeResult = 4
	ResultSystemError       JudgeResult = 5
	ResultPending           JudgeResult = 6
	ResultJudging           JudgeResult = 7
	ResultPartiallyAccepted JudgeResult = 8
	ResultSubmitting        JudgeResult = 9
)

var resultNames = map[JudgeResult]string{
	ResultCompileError:      "Compile Error",
	ResultWrongAnswer:       "Wrong Answer",
	ResultAccepted:          "Accepted",
	ResultCPUTimeLimit:      "Time Limit Exceeded",
	ResultRealTimeLimit:     "Time Limit Exceeded",
	ResultMemoryLimit:       "Memory Limit Exceeded",
	ResultRuntimeError:      "Runtime Error",
	ResultSystemError:       "System Error",
	ResultPending:           "Pending",
	ResultJudging:           "Judging",
	ResultPartiallyAccepted: "Partial Accepted",
	ResultSubmitting:        "Submitting",
}

func (r JudgeResult) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(r)) + ")"
}

// Processing reports whether the judge may still change the result.
func (r JudgeResult) Processing() bool {
	return r == ResultPending || r == ResultJudging || r == ResultSubmitting
}

// StatisticInfo holds the cost figures of a judged submission.
type StatisticInfo struct {
	TimeCost   int    `json:"time_cost,omitempty"`
	MemoryCost int    `json:"memory_cost,omitempty"`
	Score      int    `json:"score,omitempty"`
	ErrInfo    string `json:"err_info,omitempty"`
}

// Submission is the client-side projection of a judge submission.
type Submission struct {
	ID            string        `json:"id"`
	CreateTime    time.Time     `json:"create_time"`
	UserID        int           `json:"user_id,omitempty"`
	Username      string        `json:"username,omitempty"`
	Code          string        `json:"code,omitempty"`
	Result        JudgeResult   `json:"result"`
	Language      string        `json:"language,omitempty"`
	Shared        bool          `json:"shared,omitempty"`
	StatisticInfo StatisticInfo `json:"statistic_info"`
	Problem       int           `json:"problem,omitempty"`
}
