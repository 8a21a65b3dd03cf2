package main

import (
	"context"
	"encoding/json"
	"fmt"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/geofence"
)

func (cli *commandLine) addTeacher(ctx context.Context, id, name string) error {
	if err := cli.teachers.UpsertTeacher(ctx, id, name); err != nil {
		return err
	}
	logger.Printf("teacher %s saved", id)
	return nil
}

func (cli *commandLine) listTeachers(ctx context.Context) error {
	teachers, err := cli.teachers.ListTeachers(ctx)
	if err != nil {
		return err
	}
	for _, t := range teachers {
		fmt.Fprintf(cli.out, "%s\t%s\n", t.ID, t.Name)
	}
	return nil
}

// provisionCodes prints the plaintext codes; only their hashes are stored.
func (cli *commandLine) provisionCodes(ctx context.Context, teacherID string, n int) error {
	teacher, err := cli.mustBeTeacher(ctx, teacherID)
	if err != nil {
		return err
	}
	codes, err := cli.vault.Provision(ctx, teacherID, n)
	if err != nil {
		return err
	}
	for _, c := range codes {
		fmt.Fprintln(cli.out, c)
	}
	logger.Printf("%d recovery codes provisioned for %s (%s)", len(codes), teacher.ID, teacher.Name)
	return nil
}

func (cli *commandLine) resetDevice(ctx context.Context, teacherID string) error {
	if err := cli.registry.Remove(ctx, teacherID); err != nil {
		return err
	}
	logger.Printf("device for %s removed; the teacher can register a new one", teacherID)
	return nil
}

func (cli *commandLine) issueToken(subject, role string) error {
	switch role {
	case auth.RoleTeacher, auth.RolePrincipal, auth.RoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	tokens, err := auth.Issue(subject, role, cli.tokens.Issuer, cli.tokens.SigningKey, cli.tokens.AccessTTL, cli.tokens.RefreshTTL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "access_token=%s\nrefresh_token=%s\nexpires_at=%d\n",
		tokens.AccessToken, tokens.RefreshToken, tokens.AccessExp.Unix())
	return nil
}

func (cli *commandLine) addGeofence(ctx context.Context, name, path string) error {
	raw, err := readFileFunc(path)
	if err != nil {
		return err
	}
	var polygons []geofence.Polygon
	if err := json.Unmarshal(raw, &polygons); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	g, err := cli.geofences.Create(ctx, name, polygons)
	if err != nil {
		return err
	}
	logger.Printf("geofence %s created with id %s", g.Name, g.ID)
	return nil
}

func (cli *commandLine) listGeofences(ctx context.Context) error {
	all, err := cli.geofences.ListAll(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

func (cli *commandLine) mustBeTeacher(ctx context.Context, id string) (*attendance.Teacher, error) {
	t, err := cli.teachers.GetTeacher(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%s is not a teacher; run add-teacher first", id)
	}
	return t, nil
}
