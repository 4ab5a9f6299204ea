package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
)

var _ ports.Remote = (*Client)(nil)

type workflow struct {
	ID    int64  `json:"id"`
	Path  string `json:"path"`
	State string `json:"state"`
}

type workflowRun struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

func (run workflowRun) status() ports.RunStatus {
	return ports.RunStatus{ID: run.ID, Status: run.Status, Conclusion: run.Conclusion}
}

// Username returns the login of the authenticated user.
func (client *Client) Username(ctx context.Context) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if err := client.get(ctx, "/user", &user); err != nil {
		return "", err
	}
	if user.Login == "" {
		return "", fmt.Errorf("github: login not found in /user response")
	}
	return user.Login, nil
}

// RepoExists reports whether repo ("owner/name") is visible. 404 is false.
func (client *Client) RepoExists(ctx context.Context, repo string) (bool, error) {
	var ignored struct{}
	err := client.get(ctx, "/repos/"+repo, &ignored)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateFork requests a fork of parent and returns its full name.
// GitHub creates forks asynchronously; callers poll RepoExists.
func (client *Client) CreateFork(ctx context.Context, parent string) (string, error) {
	var fork struct {
		FullName string `json:"full_name"`
	}
	if err := client.post(ctx, "/repos/"+parent+"/forks", map[string]any{}, &fork); err != nil {
		return "", err
	}
	if fork.FullName == "" {
		return "", fmt.Errorf("github: fork name not found in response for %s", parent)
	}
	return fork.FullName, nil
}

// DeleteRepo deletes repo. A repo that is already gone is success.
func (client *Client) DeleteRepo(ctx context.Context, repo string) error {
	err := client.delete(ctx, "/repos/"+repo)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// AutomationTriggerID returns the first workflow whose path contains fileHint.
func (client *Client) AutomationTriggerID(ctx context.Context, repo, fileHint string) (int64, bool, error) {
	var list struct {
		Workflows []workflow `json:"workflows"`
	}
	err := client.get(ctx, "/repos/"+repo+"/actions/workflows?per_page=100", &list)
	if IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	for _, w := range list.Workflows {
		if strings.Contains(w.Path, fileHint) {
			return w.ID, true, nil
		}
	}
	return 0, false, nil
}

// EnableAutomation enables a workflow. Already enabled is success.
func (client *Client) EnableAutomation(ctx context.Context, repo string, triggerID int64) error {
	err := client.put(ctx, fmt.Sprintf("/repos/%s/actions/workflows/%d/enable", repo, triggerID), nil)
	if isAlreadyInState(err) {
		return nil
	}
	return err
}

// DisableAutomation disables a workflow. Already disabled is success.
func (client *Client) DisableAutomation(ctx context.Context, repo string, triggerID int64) error {
	err := client.put(ctx, fmt.Sprintf("/repos/%s/actions/workflows/%d/disable", repo, triggerID), nil)
	if isAlreadyInState(err) {
		return nil
	}
	return err
}

// DispatchAutomation triggers a workflow_dispatch event on ref.
func (client *Client) DispatchAutomation(ctx context.Context, repo, fileHint, ref string) error {
	path := fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", repo, url.PathEscape(fileHint))
	return client.post(ctx, path, map[string]string{"ref": ref}, nil)
}

// LatestRun returns the newest run of the workflow named fileHint.
func (client *Client) LatestRun(ctx context.Context, repo, fileHint string) (ports.RunStatus, bool, error) {
	var list struct {
		WorkflowRuns []workflowRun `json:"workflow_runs"`
	}
	path := fmt.Sprintf("/repos/%s/actions/workflows/%s/runs?per_page=1", repo, url.PathEscape(fileHint))
	err := client.get(ctx, path, &list)
	if IsNotFound(err) {
		return ports.RunStatus{}, false, nil
	}
	if err != nil {
		return ports.RunStatus{}, false, err
	}
	if len(list.WorkflowRuns) == 0 {
		return ports.RunStatus{}, false, nil
	}
	return list.WorkflowRuns[0].status(), true, nil
}

// Run returns the status of one workflow run.
func (client *Client) Run(ctx context.Context, repo string, runID int64) (ports.RunStatus, error) {
	var run workflowRun
	if err := client.get(ctx, fmt.Sprintf("/repos/%s/actions/runs/%d", repo, runID), &run); err != nil {
		return ports.RunStatus{}, err
	}
	return run.status(), nil
}

// Usage returns the enhanced billing usage report of username.
// Unlike lookups, a 404 here is an error: an empty report would read as zero usage.
func (client *Client) Usage(ctx context.Context, username string) (domain.Usage, error) {
	var usage domain.Usage
	if err := client.get(ctx, "/users/"+url.PathEscape(username)+"/settings/billing/usage", &usage); err != nil {
		return domain.Usage{}, err
	}
	return usage, nil
}

// RepoPublicKey returns the Actions secrets public key of repo.
func (client *Client) RepoPublicKey(ctx context.Context, repo string) (domain.PublicKey, error) {
	var key domain.PublicKey
	if err := client.get(ctx, "/repos/"+repo+"/actions/secrets/public-key", &key); err != nil {
		return domain.PublicKey{}, err
	}
	if key.KeyID == "" || key.Key == "" {
		return domain.PublicKey{}, fmt.Errorf("github: public key not found in response for %s", repo)
	}
	return key, nil
}

// SetSecret creates or updates an Actions secret of repo.
func (client *Client) SetSecret(ctx context.Context, repo, name string, sealed domain.SealedSecret) error {
	return client.put(ctx, "/repos/"+repo+"/actions/secrets/"+url.PathEscape(name), sealed)
}

// SecretExists reports whether the Actions secret is set. 404 is false.
func (client *Client) SecretExists(ctx context.Context, repo, name string) (bool, error) {
	var ignored struct{}
	err := client.get(ctx, "/repos/"+repo+"/actions/secrets/"+url.PathEscape(name), &ignored)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
