package recovery

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// contactsFile is the shape of the optional regional override file.
type contactsFile struct {
	Contacts []EmergencyContact `yaml:"contacts"`
}

// LoadContactsFile loads a YAML emergency-contact override and installs it
// as the canonical list. Bootstrap-only: deployments outside the US swap in
// their regional hotlines here before the server accepts connections.
func LoadContactsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read emergency contacts file: %w", err)
	}

	var f contactsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse emergency contacts file: %w", err)
	}
	if len(f.Contacts) == 0 {
		return fmt.Errorf("emergency contacts file %s contains no contacts", path)
	}

	for i, c := range f.Contacts {
		if c.Name == "" || c.Contact == "" {
			return fmt.Errorf("emergency contact %d is missing a name or contact value", i)
		}
	}

	SetContacts(f.Contacts)
	return nil
}
