package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/models"
)

func TestSchemaFromFiles(t *testing.T) {
	files := models.FileMap{
		"app/models/user.py": "class User(Base):\n    id = Column(Integer)\n",
		"app/models/post.py": "class Post(Base):\n    id = Column(Integer)\n",
		"app/models/base.py": "Base = declarative_base()\n",
		"app/routers/users.py": `@router.get("/users")
def list_users(): pass

@router.post("/users")
def create_user(): pass
`,
		"main.py": "app = FastAPI()\n",
	}

	schema := SchemaFromFiles(files)

	require.Len(t, schema.Entities, 2)
	assert.Equal(t, "Post", schema.Entities[0].Name)
	assert.Equal(t, "User", schema.Entities[1].Name)

	require.Len(t, schema.Endpoints, 2)
	assert.Equal(t, "GET", schema.Endpoints[0].Method)
	assert.Equal(t, "/users", schema.Endpoints[0].Path)
	assert.Equal(t, "POST", schema.Endpoints[1].Method)
}

func TestSchemaFromFilesFallsBackToFileName(t *testing.T) {
	schema := SchemaFromFiles(models.FileMap{
		"models/order.py": "# placeholder, no class yet\n",
	})

	require.Len(t, schema.Entities, 1)
	assert.Equal(t, "Order", schema.Entities[0].Name)
}

func TestSchemaFromFilesIgnoresInitAndBase(t *testing.T) {
	schema := SchemaFromFiles(models.FileMap{
		"models/__init__.py": "",
		"models/base.py":     "",
	})

	assert.True(t, schema.IsEmpty())
}

func TestSchemaFromFilesEmptyInput(t *testing.T) {
	schema := SchemaFromFiles(models.FileMap{})

	assert.True(t, schema.IsEmpty())
	assert.Empty(t, schema.Endpoints)
}
