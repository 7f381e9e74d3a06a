//go:build windows

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/SanGraphic/gamemode/internal"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const stopPollInterval = 200 * time.Millisecond

type nativeBackend struct{}

// NewNativeBackend returns the Windows service control manager backend
func NewNativeBackend() Backend {
	return nativeBackend{}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST):
		return fmt.Errorf("%w: %v", internal.ErrTargetAbsent, err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("%w: %v", internal.ErrPermissionDenied, err)
	case errors.Is(err, windows.ERROR_DEPENDENT_SERVICES_RUNNING),
		errors.Is(err, windows.ERROR_SERVICE_CANNOT_ACCEPT_CTRL),
		errors.Is(err, windows.ERROR_SERVICE_REQUEST_TIMEOUT):
		return fmt.Errorf("%w: %v", internal.ErrBusy, err)
	default:
		return err
	}
}

func open(name string) (*mgr.Mgr, *mgr.Service, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, nil, mapErr(fmt.Errorf("connect to service manager: %w", err))
	}
	s, err := m.OpenService(name)
	if err != nil {
		m.Disconnect()
		return nil, nil, mapErr(err)
	}
	return m, s, nil
}

func startMode(cfg mgr.Config) StartMode {
	switch cfg.StartType {
	case windows.SERVICE_BOOT_START:
		return StartBoot
	case windows.SERVICE_SYSTEM_START:
		return StartSystem
	case mgr.StartAutomatic:
		if cfg.DelayedAutoStart {
			return StartAutoDelayed
		}
		return StartAuto
	case mgr.StartDisabled:
		return StartDisabled
	default:
		return StartManual
	}
}

func (nativeBackend) Query(ctx context.Context, name string) (State, error) {
	m, s, err := open(name)
	if err != nil {
		return State{}, err
	}
	defer m.Disconnect()
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return State{}, mapErr(err)
	}
	status, err := s.Query()
	if err != nil {
		return State{}, mapErr(err)
	}
	running := status.State == svc.Running || status.State == svc.StartPending
	return State{StartMode: startMode(cfg), Running: running}, nil
}

func (nativeBackend) Stop(ctx context.Context, name string) error {
	m, s, err := open(name)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return mapErr(err)
	}
	if status.State == svc.Stopped {
		return nil
	}
	if status.State != svc.StopPending {
		if _, err := s.Control(svc.Stop); err != nil && !errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
			return mapErr(err)
		}
	}

	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		status, err := s.Query()
		if err != nil {
			return mapErr(err)
		}
		if status.State == svc.Stopped {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: service %s still stopping", internal.ErrBusy, name)
		case <-ticker.C:
		}
	}
}

func (nativeBackend) Start(ctx context.Context, name string) error {
	m, s, err := open(name)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	if err := s.Start(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
		return mapErr(err)
	}
	return nil
}

func (nativeBackend) SetStartMode(ctx context.Context, name string, mode StartMode) error {
	m, s, err := open(name)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	defer s.Close()

	var startType uint32
	switch mode {
	case StartBoot:
		startType = windows.SERVICE_BOOT_START
	case StartSystem:
		startType = windows.SERVICE_SYSTEM_START
	case StartAuto, StartAutoDelayed:
		startType = mgr.StartAutomatic
	case StartManual:
		startType = mgr.StartManual
	case StartDisabled:
		startType = mgr.StartDisabled
	default:
		return fmt.Errorf("unknown start mode %q", mode)
	}

	err = windows.ChangeServiceConfig(s.Handle, windows.SERVICE_NO_CHANGE, startType, windows.SERVICE_NO_CHANGE,
		nil, nil, nil, nil, nil, nil, nil)
	if err != nil {
		return mapErr(err)
	}
	if startType == mgr.StartAutomatic {
		info := windows.SERVICE_DELAYED_AUTO_START_INFO{}
		if mode == StartAutoDelayed {
			info.IsDelayedAutoStartUp = 1
		}
		err = windows.ChangeServiceConfig2(s.Handle, windows.SERVICE_CONFIG_DELAYED_AUTO_START_INFO, (*byte)(unsafe.Pointer(&info)))
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (nativeBackend) Dependents(ctx context.Context, name string) ([]string, error) {
	m, s, err := open(name)
	if err != nil {
		return nil, err
	}
	defer m.Disconnect()
	defer s.Close()

	deps, err := s.ListDependentServices(svc.AnyActivity)
	if err != nil {
		return nil, mapErr(err)
	}
	return deps, nil
}
