package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowport/types"
)

// WorkflowFile 批量导入中的单个文件
type WorkflowFile struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Options 批量导入选项
type Options struct {
	// OverwriteExisting 同名应用存在时原地更新而不是新建副本
	OverwriteExisting bool `json:"overwrite_existing"`
	// IgnoreErrors 单个文件失败后继续处理后续文件
	IgnoreErrors bool `json:"ignore_errors"`
}

// BatchImport 按顺序逐个导入文件。
// 文件之间互相隔离：单个文件的失败记入该文件的结果；IgnoreErrors
// 为 false 时批次在第一个失败处停止，未处理的文件不再尝试。
// 批次刻意串行执行，保证早停语义有明确定义。
func (e *Engine) BatchImport(ctx context.Context, targetInstanceID string, files []WorkflowFile, opts Options) (*types.BatchImportResult, error) {
	if _, err := e.findInstance(targetInstanceID); err != nil {
		return nil, err
	}

	batch := &types.BatchImportResult{
		Results:    make([]types.FileImportResult, 0, len(files)),
		TotalCount: len(files),
	}

	for _, file := range files {
		e.logger.Info("importing workflow file",
			zap.String("instance", targetInstanceID),
			zap.String("filename", file.Filename),
		)

		entry := e.importFile(ctx, targetInstanceID, file, opts)
		batch.Results = append(batch.Results, entry)

		if entry.Success {
			batch.SuccessCount++
			if entry.Status == types.ImportStatusCompletedWithWarnings || entry.Status == types.ImportStatusPending {
				batch.WarningCount++
			}
			continue
		}

		batch.FailedCount++
		if !opts.IgnoreErrors {
			e.logger.Error("batch import stopped at first failure",
				zap.String("filename", file.Filename),
				zap.String("error", entry.Error),
			)
			break
		}
		e.logger.Warn("ignoring file import failure",
			zap.String("filename", file.Filename),
			zap.String("error", entry.Error),
		)
	}

	return batch, nil
}

// importFile 处理批次中的单个文件
func (e *Engine) importFile(ctx context.Context, targetInstanceID string, file WorkflowFile, opts Options) types.FileImportResult {
	entry := types.FileImportResult{Filename: file.Filename}

	// 从文档里恢复应用信息作为默认值
	var doc struct {
		App struct {
			Name           string `yaml:"name"`
			Description    string `yaml:"description"`
			IconType       string `yaml:"icon_type"`
			Icon           string `yaml:"icon"`
			IconBackground string `yaml:"icon_background"`
		} `yaml:"app"`
	}
	if err := yaml.Unmarshal([]byte(file.Content), &doc); err != nil {
		entry.Error = fmt.Sprintf("处理文件 %s 时发生错误: %v", file.Filename, err)
		return entry
	}

	payload := Payload{
		Mode:           ModeYAMLContent,
		YAMLContent:    file.Content,
		Name:           file.Name,
		Description:    file.Description,
		IconType:       doc.App.IconType,
		Icon:           doc.App.Icon,
		IconBackground: doc.App.IconBackground,
	}
	if payload.Name == "" {
		payload.Name = doc.App.Name
	}
	if payload.Description == "" {
		payload.Description = doc.App.Description
	}
	if payload.IconType == "" {
		payload.IconType = types.DefaultIconType
	}
	if payload.Icon == "" {
		payload.Icon = types.DefaultIcon
	}
	if payload.IconBackground == "" {
		payload.IconBackground = types.DefaultIconBackground
	}
	entry.AppName = payload.Name

	if opts.OverwriteExisting && payload.Name != "" {
		if appID := e.findAppByName(ctx, targetInstanceID, payload.Name); appID != "" {
			payload.AppID = appID
			e.logger.Info("overwriting existing app",
				zap.String("app_name", payload.Name),
				zap.String("app_id", appID),
			)
		}
	}

	result, err := e.ImportSingle(ctx, targetInstanceID, payload)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	// pending 的导入默认立即确认，除非调用方选择忽略错误自行善后
	if result.RequiresConfirmation && !opts.IgnoreErrors {
		confirm, err := e.ConfirmImport(ctx, targetInstanceID, result.ImportID)
		if err == nil && confirm.Success {
			result.Status = confirm.Status
			if confirm.AppID != "" {
				result.AppID = confirm.AppID
			}
		}
	}

	entry.Success = result.Success
	entry.AppID = result.AppID
	entry.ImportID = result.ImportID
	entry.Status = result.Status
	entry.Error = result.Error
	entry.Warnings = result.Warnings
	return entry
}

// findAppByName 在目标实例中按名称精确匹配应用，返回应用 ID
func (e *Engine) findAppByName(ctx context.Context, targetInstanceID, appName string) string {
	instance, err := e.findInstance(targetInstanceID)
	if err != nil {
		return ""
	}

	listURL := fmt.Sprintf("%s%s?name=%s&limit=100", instance.URL, appsListPath, url.QueryEscape(appName))

	resp, err := e.doRequest(ctx, http.MethodGet, listURL, instance.Auth, nil)
	if err != nil || resp.status != http.StatusOK {
		e.logger.Warn("failed to look up existing app by name",
			zap.String("app_name", appName), zap.Error(err))
		return ""
	}

	var listing struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &listing); err != nil {
		e.logger.Warn("malformed apps listing from target instance", zap.Error(err))
		return ""
	}

	for _, app := range listing.Data {
		if app.Name == appName {
			return app.ID
		}
	}
	return ""
}
