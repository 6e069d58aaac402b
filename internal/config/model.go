package config

// File is the decoded run file. Unset attributes keep their zero value, and
// pointer fields stay nil so callers can tell "unset" from "false" or "0".
type File struct {
	Base         string   `hcl:"base,optional"`
	Overlay      string   `hcl:"overlay,optional"`
	Formulas     string   `hcl:"formulas,optional"`
	StartPoint   string   `hcl:"start_point,optional"`
	Output       string   `hcl:"output,optional"`
	Graph        string   `hcl:"graph,optional"`
	Targets      []string `hcl:"targets,optional"`
	Workers      *int     `hcl:"workers,optional"`
	AllowPartial *bool    `hcl:"allow_partial,optional"`

	Log     *Log     `hcl:"log,block"`
	Publish *Publish `hcl:"publish,block"`
	Metrics *Metrics `hcl:"metrics,block"`
}

// Log configures the logger.
type Log struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
}

// Publish configures the socket.io publisher.
type Publish struct {
	URL                string `hcl:"url"`
	Namespace          string `hcl:"namespace,optional"`
	InsecureSkipVerify bool   `hcl:"insecure_skip_verify,optional"`
	ConnectTimeout     string `hcl:"connect_timeout,optional"`
}

// Metrics configures the Prometheus textfile output.
type Metrics struct {
	Textfile string `hcl:"textfile"`
}

// merge copies every field set in other over f.
func (f *File) merge(other *File) {
	setString(&f.Base, other.Base)
	setString(&f.Overlay, other.Overlay)
	setString(&f.Formulas, other.Formulas)
	setString(&f.StartPoint, other.StartPoint)
	setString(&f.Output, other.Output)
	setString(&f.Graph, other.Graph)
	if len(other.Targets) > 0 {
		f.Targets = other.Targets
	}
	if other.Workers != nil {
		f.Workers = other.Workers
	}
	if other.AllowPartial != nil {
		f.AllowPartial = other.AllowPartial
	}
	if other.Log != nil {
		if f.Log == nil {
			f.Log = &Log{}
		}
		setString(&f.Log.Level, other.Log.Level)
		setString(&f.Log.Format, other.Log.Format)
	}
	if other.Publish != nil {
		f.Publish = other.Publish
	}
	if other.Metrics != nil {
		f.Metrics = other.Metrics
	}
}

func setString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
