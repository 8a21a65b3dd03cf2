package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/recovery"
)

var (
	defaultReadFile = os.ReadFile
	readFileFunc    = defaultReadFile // mockable

	errHelp = errors.New("help provided")
)

type teacherStore interface {
	GetTeacher(ctx context.Context, id string) (*attendance.Teacher, error)
	UpsertTeacher(ctx context.Context, id, name string) error
	ListTeachers(ctx context.Context) ([]attendance.Teacher, error)
}

type tokenSettings struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type commandLine struct {
	migrate   func(ctx context.Context) error
	teachers  teacherStore
	vault     *recovery.Vault
	registry  *credential.Registry
	geofences *geofence.Store
	tokens    tokenSettings
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate                                    - create or update the database schema")
	fmt.Fprintln(cli.out, "  add-teacher --id ID [--name NAME]          - add a teacher or rename one")
	fmt.Fprintln(cli.out, "  list-teachers                              - list teachers")
	fmt.Fprintln(cli.out, "  provision-codes --teacher ID [--count N]   - generate recovery codes, printed once")
	fmt.Fprintln(cli.out, "  reset-device --teacher ID                  - forget the teacher's registered device")
	fmt.Fprintln(cli.out, "  issue-token --subject ID [--role ROLE]     - sign an access and refresh token")
	fmt.Fprintln(cli.out, "  add-geofence --name NAME --file FILE       - create a geofence from a JSON polygon list")
	fmt.Fprintln(cli.out, "  list-geofences                             - print all geofences as JSON")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	fs := pflag.NewFlagSet(args[1], pflag.ContinueOnError)
	fs.SetOutput(cli.out)
	id := fs.String("id", "", "teacher id")
	name := fs.String("name", "", "display name")
	teacher := fs.String("teacher", "", "teacher id")
	count := fs.IntP("count", "n", 10, "number of codes")
	subject := fs.String("subject", "", "token subject (the user id)")
	role := fs.String("role", auth.RoleTeacher, "token role: teacher, principal or admin")
	file := fs.StringP("file", "f", "", "path to a JSON array of polygons")

	if err := fs.Parse(args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	usage := func() error {
		fs.Usage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if err := cli.migrate(ctx); err != nil {
			return err
		}
		logger.Println("schema up to date")
		return nil
	case "add-teacher":
		if *id == "" {
			return usage()
		}
		return cli.addTeacher(ctx, *id, *name)
	case "list-teachers":
		return cli.listTeachers(ctx)
	case "provision-codes":
		if *teacher == "" || *count <= 0 {
			return usage()
		}
		return cli.provisionCodes(ctx, *teacher, *count)
	case "reset-device":
		if *teacher == "" {
			return usage()
		}
		return cli.resetDevice(ctx, *teacher)
	case "issue-token":
		if *subject == "" {
			return usage()
		}
		return cli.issueToken(*subject, *role)
	case "add-geofence":
		if *name == "" || *file == "" {
			return usage()
		}
		return cli.addGeofence(ctx, *name, *file)
	case "list-geofences":
		return cli.listGeofences(ctx)
	default:
		cli.printUsage()
		return errHelp
	}
}
