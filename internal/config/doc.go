// Package config loads the optional HCL run file. A run file names the input
// files and the run options so a recurring resolution does not need a long
// command line:
//
//	base        = "data/base.csv"
//	overlay     = "data/overlay.csv"
//	formulas    = "model.formulas"
//	start_point = "2021-01"
//	output      = "out/resolved.csv"
//	targets     = ["x2"]
//	workers     = 4
//
//	log {
//	  level  = "debug"
//	  format = "text"
//	}
//
//	publish {
//	  url       = "http://localhost:3000"
//	  namespace = "/runs"
//	}
//
//	metrics {
//	  textfile = "out/formulagrid.prom"
//	}
//
// A directory may be given instead of a file; every .hcl file in it is read
// in lexical order and later files override earlier ones.
package config
