// version.go - Build-Version der Binaries
// Wird beim Release ueber -ldflags ueberschrieben
package version

var Version = "0.0.0"
