package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（最详细）
	INFO                  // 一般信息
	WARN                  // 警告信息
	ERROR                 // 错误信息
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	// 文件日志（DEBUG 级别时启用，按日期轮转）
	files  = map[string]*dailyFile{}
	fileMu sync.Mutex
	logDir = "logs"

	globalLocation *time.Location = time.Local
	locationMu     sync.RWMutex

	// 持久化写入器（通过函数指针避免循环依赖）
	logStorageWriter func(level, message string)
	logStorageMu     sync.RWMutex

	exit = os.Exit
)

// dailyFile 按日期命名的日志文件
type dailyFile struct {
	prefix string
	date   string
	file   *os.File
	out    *log.Logger
}

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回 INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别。DEBUG 级别同时写入日志文件。
func SetLevel(level LogLevel) {
	mu.Lock()
	globalLevel = level
	mu.Unlock()

	if level != DEBUG {
		closeFile("app")
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLogDir 设置日志文件目录
func SetLogDir(dir string) {
	if dir == "" {
		return
	}
	fileMu.Lock()
	logDir = dir
	fileMu.Unlock()
}

// SetLocation 设置全局日志时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

func now() time.Time {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return time.Now().In(globalLocation)
}

// InitLogStorage 注册日志持久化写入器
func InitLogStorage(writer func(level, message string)) {
	logStorageMu.Lock()
	defer logStorageMu.Unlock()
	logStorageWriter = writer
}

// writeFile 写入指定前缀的日志文件，日期变化时轮转
func writeFile(prefix, message string) {
	fileMu.Lock()
	defer fileMu.Unlock()

	ts := now()
	today := ts.Format("2006-01-02")
	f := files[prefix]
	if f == nil || f.date != today {
		if f != nil && f.file != nil {
			f.file.Close()
		}
		delete(files, prefix)

		if err := os.MkdirAll(logDir, 0755); err != nil {
			return
		}
		name := filepath.Join(logDir, fmt.Sprintf("%s-spottrader-%s.log", prefix, today))
		file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		f = &dailyFile{prefix: prefix, date: today, file: file, out: log.New(file, "", 0)}
		files[prefix] = f
	}
	f.out.Printf("%s %s", ts.Format("2006/01/02 15:04:05"), message)
}

func closeFile(prefix string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if f := files[prefix]; f != nil {
		f.file.Close()
		delete(files, prefix)
	}
}

// WriteWebLog 写入 Web 访问日志（供 Gin 中间件使用）
func WriteWebLog(message string) {
	writeFile("web", message)
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	fileMu.Lock()
	for prefix, f := range files {
		f.file.Close()
		delete(files, prefix)
	}
	fileMu.Unlock()

	logStorageMu.Lock()
	logStorageWriter = nil
	logStorageMu.Unlock()
}

func emit(level LogLevel, message string) {
	if level < GetLevel() {
		return
	}
	line := fmt.Sprintf("[%s] %s", level.String(), message)
	log.Print(line)

	if GetLevel() == DEBUG {
		writeFile("app", line)
	}

	logStorageMu.RLock()
	writer := logStorageWriter
	logStorageMu.RUnlock()
	if writer != nil {
		// 写入器内部若再打日志不能阻塞当前调用方
		go func() {
			defer func() { _ = recover() }()
			writer(level.String(), line)
		}()
	}
}

// Fields 结构化字段，输出为按键排序的 key=value
type Fields map[string]interface{}

func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return strings.Join(parts, " ")
}

// Entry 附带字段的日志
type Entry struct {
	fields Fields
}

// WithField 附带单个字段
func WithField(key string, value interface{}) *Entry {
	return &Entry{fields: Fields{key: value}}
}

// WithFields 附带多个字段
func WithFields(fields Fields) *Entry {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Entry{fields: cp}
}

// WithField 追加字段
func (e *Entry) WithField(key string, value interface{}) *Entry {
	out := WithFields(e.fields)
	out.fields[key] = value
	return out
}

func (e *Entry) log(level LogLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if s := e.fields.String(); s != "" {
		msg = msg + " " + s
	}
	emit(level, msg)
}

func (e *Entry) Debug(format string, args ...interface{}) { e.log(DEBUG, format, args...) }
func (e *Entry) Info(format string, args ...interface{})  { e.log(INFO, format, args...) }
func (e *Entry) Warn(format string, args ...interface{})  { e.log(WARN, format, args...) }
func (e *Entry) Error(format string, args ...interface{}) { e.log(ERROR, format, args...) }

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	emit(DEBUG, fmt.Sprintf(format, args...))
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	emit(INFO, fmt.Sprintf(format, args...))
}

// Infoln 输出一般信息日志（无格式）
func Infoln(args ...interface{}) {
	emit(INFO, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	emit(WARN, fmt.Sprintf(format, args...))
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	emit(ERROR, fmt.Sprintf(format, args...))
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	emit(FATAL, fmt.Sprintf(format, args...))
	exit(1)
}

// Fatalf 兼容标准库
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}
