package build

var CurrentCommit string

const BuildVersion = "0.1.0"

func UserVersion() string {
	if CurrentCommit == "" {
		return BuildVersion
	}
	return BuildVersion + "+git." + CurrentCommit
}
