package launch

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/stackr/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTable(t *testing.T) {
	bin := "/opt/php-8.2.10"
	cases := []struct {
		kind project.Kind
		args []string
	}{
		{project.KindStandard, []string{"-S", "127.0.0.1:8000", "-t", "/proj"}},
		{project.KindArtisan, []string{"artisan", "serve", "--host=127.0.0.1", "--port=8000"}},
		{project.KindFrontController, []string{"-S", "127.0.0.1:8000", "-t", "/proj/public"}},
		{project.KindCMS, []string{"-S", "127.0.0.1:8000", "-t", "/proj"}},
		{project.KindUnspecified, []string{"-S", "127.0.0.1:8000", "-t", "/proj"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			s, err := Build(tc.kind, bin, "/proj", 8000)
			require.NoError(t, err)
			assert.Equal(t, tc.args, s.Args)
			assert.Equal(t, "/proj", s.WorkDir)
			assert.Equal(t, Executable(bin), s.Executable)
			assert.Equal(t, 8000, s.Port)
		})
	}
}

func TestEveryKindHasARow(t *testing.T) {
	for _, k := range project.Kinds {
		_, err := Build(k, "", "/p", 1)
		assert.NoError(t, err, k)
	}
}

func TestArtisanNeverPublic(t *testing.T) {
	for _, path := range []string{"/a", "/srv/app", "/home/u/code/shop"} {
		s, err := Build(project.KindArtisan, "", path, 9000)
		require.NoError(t, err)
		assert.Equal(t, path, s.WorkDir)
		for _, a := range s.Args {
			assert.NotContains(t, a, "/public")
		}
	}
}

func TestFrontControllerAlwaysPublic(t *testing.T) {
	for _, path := range []string{"/a", "/srv/app"} {
		s, err := Build(project.KindFrontController, "", path, 9000)
		require.NoError(t, err)
		assert.Equal(t, path, s.WorkDir)
		assert.True(t, strings.HasSuffix(s.Args[3], "/public"))
		assert.Equal(t, path+"/public", s.Args[3])
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := Build("rails", "", "/p", 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestForProject(t *testing.T) {
	p := project.Project{ID: "p1", Kind: project.KindStandard, Path: "/proj", Port: 8000}
	s, err := ForProject(p, "/bin/php")
	require.NoError(t, err)
	assert.Equal(t, []string{"-S", "127.0.0.1:8000", "-t", "/proj"}, s.Args)
	assert.Equal(t, "/proj", s.WorkDir)

	p.Kind = ""
	_, err = ForProject(p, "/bin/php")
	assert.NoError(t, err)
}

func TestForService(t *testing.T) {
	svc := project.GlobalService{ID: project.ServiceDatabase, Command: "bin/mysqld", Args: []string{"--console"}, Port: 3306}
	s := ForService(svc, "/opt/mariadb")
	assert.Equal(t, filepath.Join("/opt/mariadb", "bin/mysqld"), s.Executable)
	assert.Equal(t, "/opt/mariadb", s.WorkDir)
	assert.Equal(t, []string{"--console"}, s.Args)
	assert.Equal(t, 3306, s.Port)
	assert.Equal(t, []string{s.Executable, "--console"}, s.Argv())

	svc.Command = "/usr/sbin/mysqld"
	svc.WorkDir = "/var/lib/mysql"
	s = ForService(svc, "/opt/mariadb")
	assert.Equal(t, "/usr/sbin/mysqld", s.Executable)
	assert.Equal(t, "/var/lib/mysql", s.WorkDir)
}
