package coincidences

type Logger interface {
	Info(message string, module string)
	Error(string)
}

type nopLogger struct{}

func (nopLogger) Info(string, string) {}
func (nopLogger) Error(string)        {}

var logger Logger = nopLogger{}

func SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	logger = l
}

var verbosity int

// SetVerbosity sets the detail of library logging: 1 per run, 2 per batch,
// 3 per coincidence.
func SetVerbosity(level int) {
	verbosity = level
}
