package logs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type logFormatter func(entry *log.Entry) ([]byte, error)

func (f logFormatter) Format(entry *log.Entry) ([]byte, error) {
	return f(entry)
}

func init() {
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(true)
	log.SetFormatter(logFormatter(format))
}

// format renders "time LEVEL caller message k=v ..." with keys sorted, so
// interleaved output from the relay, signaling and timer loops stays greppable.
func format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(entry.Level.String()))

	b.WriteByte(' ')
	if caller, ok := entry.Data["caller"]; ok {
		b.WriteString(fmt.Sprintf("%s", caller))
	} else if entry.HasCaller() {
		b.WriteString(entry.Caller.Function)
	} else {
		b.WriteByte('-')
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "caller" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		switch value := entry.Data[k].(type) {
		case string:
			b.WriteString(value)
		case error:
			b.WriteString(value.Error())
		default:
			b.WriteString(fmt.Sprint(value))
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetLevel accepts logrus level names; unknown names keep the current level.
func SetLevel(level string) {
	if len(level) == 0 {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warnf("unknown log level %q", level)
		return
	}
	log.SetLevel(lvl)
}

var (
	fileMu      sync.Mutex
	logFile     *os.File
	logWriter   *bufio.Writer
	logFilePath string
)

// InitLoggerFile duplicates the log stream into filesDir/fileName.
func InitLoggerFile(filesDir string, fileName string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	f, err := os.Create(path.Join(filesDir, fileName))
	if err != nil {
		log.WithError(err).Error("file for logs wasn't created")
		return err
	}
	logFile = f
	logFilePath = f.Name()
	logWriter = bufio.NewWriter(f)
	log.SetOutput(io.MultiWriter(os.Stderr, logWriter))
	log.Infof("file for logs was created(%s)", logFilePath)
	return nil
}

// CloseLoggerFile flushes buffered lines and restores stderr-only output.
func CloseLoggerFile() {
	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile == nil {
		return
	}
	log.SetOutput(os.Stderr)
	if err := logWriter.Flush(); err != nil {
		log.WithError(err).Warn("cannot flush log file")
	}
	_ = logFile.Close()
	logFile, logWriter = nil, nil
}

func GetLogFilePath() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	return logFilePath
}

// New returns an entry tagged with the component name shown in the caller column.
func New(caller string) *log.Entry {
	return log.WithField("caller", caller)
}

// ForMeet tags an entry with the meeting id.
func ForMeet(caller string, meetId string) *log.Entry {
	return New(caller).WithField("meetId", meetId)
}
