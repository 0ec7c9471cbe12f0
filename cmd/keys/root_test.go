package keys

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/fatih/color"
)

func TestIdentityCommand(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	identityCmd.SetOut(&out)

	if err := identityCmd.RunE(identityCmd, nil); err != nil {
		t.Fatalf("identity failed: %v", err)
	}

	var address, seed string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		fields := strings.Fields(line)
		switch fields[0] {
		case "address:":
			address = fields[1]
		case "private":
			seed = fields[2]
		}
	}
	id, err := identity.FromHex(seed)
	if err != nil {
		t.Fatalf("printed private key does not load: %v", err)
	}
	if id.Address() != address {
		t.Errorf("address %s does not belong to the printed key (%s)", address, id.Address())
	}
}

func TestSecretCommand(t *testing.T) {
	var out bytes.Buffer
	secretCmd.SetOut(&out)

	if err := secretCmd.RunE(secretCmd, nil); err != nil {
		t.Fatalf("secret failed: %v", err)
	}
	if _, err := crypt.FromBase64(out.String()); err != nil {
		t.Errorf("printed key is not usable: %v", err)
	}
}
