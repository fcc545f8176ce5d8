package shell

import (
	"fmt"
	"regexp"
	"strings"
)

// BlockedError is returned when a command matches the denylist.
// The command is never spawned.
type BlockedError struct {
	Rule string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command blocked by safety rule: %s", e.Rule)
}

type denyRule struct {
	name  string
	match func(cmd string) bool
}

var (
	rmRootRe = regexp.MustCompile(
		`(?m)(?:^|[\s;&|(])rm\s+((?:-{1,2}[^\s]+\s+)+)(/\*?|~/?\*?|\$HOME/?\*?|\$\{HOME\}/?\*?)(?:$|[\s;&|)])`,
	)
	mkfsRe         = regexp.MustCompile(`(?m)(?:^|[\s;&|(])(?:mkfs(?:\.\w+)?|fdisk|wipefs|sfdisk|parted)(?:$|\s)`)
	formatDriveRe  = regexp.MustCompile(`(?mi)(?:^|[\s;&|(])format\s+[a-z]:`)
	ddDeviceRe     = regexp.MustCompile(`(?m)(?:^|[\s;&|(])dd\s+.*\bof=/dev/`)
	rawRedirectRe  = regexp.MustCompile(`(?m)>\s*/dev/(?:sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d|mmcblk\d|disk\d)`)
	forkBombRe     = regexp.MustCompile(`([\w:]+)\(\)\{([\w:]+)\|([\w:]+)&\};([\w:]+)`)
	recursivePerms = regexp.MustCompile(`(?m)(?:^|[\s;&|(])ch(?:mod|own|grp)\s+[^\n]*-[a-zA-Z]*R[^\n]*\s/\*?(?:$|[\s;&|)])`)
)

var denyRules = []denyRule{
	{"recursive delete of root or home directory", matchRecursiveRm},
	{"filesystem formatting", func(cmd string) bool {
		return mkfsRe.MatchString(cmd) || formatDriveRe.MatchString(cmd)
	}},
	{"raw write to a block device", func(cmd string) bool {
		return ddDeviceRe.MatchString(cmd) || rawRedirectRe.MatchString(cmd)
	}},
	{"fork bomb", matchForkBomb},
	{"recursive permission change of root", recursivePerms.MatchString},
}

// CheckCommand matches a command or script against the denylist.
// It returns a *BlockedError naming the first rule that matched.
func CheckCommand(cmd string) error {
	for _, r := range denyRules {
		if r.match(cmd) {
			return &BlockedError{Rule: r.name}
		}
	}
	return nil
}

func matchRecursiveRm(cmd string) bool {
	for _, m := range rmRootRe.FindAllStringSubmatch(cmd, -1) {
		for _, flag := range strings.Fields(m[1]) {
			if flag == "--recursive" {
				return true
			}
			if strings.HasPrefix(flag, "-") && !strings.HasPrefix(flag, "--") && strings.ContainsAny(flag, "rR") {
				return true
			}
		}
	}
	return false
}

func matchForkBomb(cmd string) bool {
	compact := strings.Join(strings.Fields(cmd), "")
	for _, m := range forkBombRe.FindAllStringSubmatch(compact, -1) {
		if m[1] == m[2] && m[2] == m[3] && m[3] == m[4] {
			return true
		}
	}
	return false
}
