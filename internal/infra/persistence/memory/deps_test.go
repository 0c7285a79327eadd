package memory

import (
	"testing"

	"github.com/poudelalish/blockchain-inventory/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.OnlyModulePackages("pkg/domain"), "memory store depends only on the domain")
}
