package preload

import "path/filepath"

// RuntimeVersion is the shared framework version whose files DefaultFiles lists.
// The list has to follow the runtime version actually shipped with the host.
const RuntimeVersion = "6.0.14"

var managedAssemblies = []string{
	"Microsoft.Extensions.DependencyInjection.dll",
	"Microsoft.Extensions.Logging.dll",
	"System.Collections.Concurrent.dll",
	"System.Collections.dll",
	"System.Collections.Immutable.dll",
	"System.Diagnostics.Tracing.dll",
	"System.Linq.dll",
	"System.Net.Http.dll",
	"System.Private.CoreLib.dll",
	"System.Runtime.dll",
	"System.Text.Json.dll",
	"System.Threading.Channels.dll",
	"System.Threading.dll",
	"System.Threading.Thread.dll",
}

// DefaultFiles returns the absolute paths of the runtime files to warm for goos.
func DefaultFiles(goos string) []string {
	var dir string
	switch goos {
	case "windows":
		dir = `C:\Program Files\dotnet\shared\Microsoft.NETCore.App\` + RuntimeVersion
	case "darwin":
		dir = "/usr/local/share/dotnet/shared/Microsoft.NETCore.App/" + RuntimeVersion
	default:
		dir = "/usr/share/dotnet/shared/Microsoft.NETCore.App/" + RuntimeVersion
	}
	return filesIn(dir, goos, separator(goos))
}

// FilesUnder lists the same file names rooted at dir, the shared framework
// directory of a non-standard dotnet install.
func FilesUnder(dir, goos string) []string {
	return filesIn(filepath.Clean(dir), goos, string(filepath.Separator))
}

// FilesFor returns FilesUnder(dir, goos), or DefaultFiles(goos) when dir is
// empty.
func FilesFor(dir, goos string) []string {
	if dir == "" {
		return DefaultFiles(goos)
	}
	return FilesUnder(dir, goos)
}

func filesIn(dir, goos, sep string) []string {
	files := make([]string, 0, len(managedAssemblies)+1)
	files = append(files, dir+sep+coreclrName(goos))
	for _, name := range managedAssemblies {
		files = append(files, dir+sep+name)
	}
	return files
}

func coreclrName(goos string) string {
	switch goos {
	case "windows":
		return "coreclr.dll"
	case "darwin":
		return "libcoreclr.dylib"
	default:
		return "libcoreclr.so"
	}
}

func separator(goos string) string {
	if goos == "windows" {
		return `\`
	}
	return "/"
}
