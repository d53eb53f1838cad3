package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	oracleMu          sync.Mutex
	oracleLog         *log.Logger
	oracleDumpPayload bool
)

// SetOracleWriter 设置预测服务流量的独立日志输出；nil 表示关闭。
func SetOracleWriter(w io.Writer) {
	oracleMu.Lock()
	defer oracleMu.Unlock()
	if w == nil {
		oracleLog = nil
		return
	}
	oracleLog = log.New(w, "", log.LstdFlags)
}

func EnableOraclePayloadDump(enabled bool) {
	oracleMu.Lock()
	oracleDumpPayload = enabled
	oracleMu.Unlock()
}

type oracleSection struct {
	Title string
	Body  string
}

func logOracle(kind, endpoint string, sections []oracleSection) {
	oracleMu.Lock()
	l := oracleLog
	oracleMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ORACLE]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if endpoint != "" {
		b.WriteString("[")
		b.WriteString(endpoint)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

// LogOracleRequest records an outgoing prediction request. The body is only
// written when payload dumping is enabled.
func LogOracleRequest(endpoint, summary, payload string) {
	oracleMu.Lock()
	dump := oracleDumpPayload
	oracleMu.Unlock()
	sections := []oracleSection{{Title: "SUMMARY", Body: summary}}
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, oracleSection{Title: "PAYLOAD", Body: payload})
	}
	logOracle("request", endpoint, sections)
}

func LogOracleResponse(endpoint, raw string) {
	logOracle("response", endpoint, []oracleSection{{Title: "RAW", Body: raw}})
}
